// Package cycles guards inventory writes against cycles whose inventory has
// been carried forward.
package cycles

import (
	"context"
	"errors"
	"fmt"

	"github.com/tallyhq/tally/internal/shared"
)

var (
	// ErrCycleLocked is returned for writes into a locked cycle.
	ErrCycleLocked = fmt.Errorf("cycles: inventory is locked for this cycle: %w", shared.ErrCycleLocked)
	// ErrCycleNotFound indicates the cycle does not exist in the organization.
	ErrCycleNotFound = fmt.Errorf("cycles: cycle not found: %w", shared.ErrNotFound)
)

// LockReader reads the lock marker of a cycle. Implementations must read
// through the caller's write transaction and hold a share lock on the cycle
// row until that transaction ends.
type LockReader interface {
	CycleLockState(ctx context.Context, cycleID, organizationID int64) (locked bool, found bool, err error)
}

// Guard decides whether a cycle accepts inventory postings.
type Guard struct {
	caps Capabilities
}

// NewGuard builds a Guard from the capabilities probed at startup.
func NewGuard(caps Capabilities) *Guard {
	return &Guard{caps: caps}
}

// Capabilities returns the immutable capability set the guard runs with.
func (g *Guard) Capabilities() Capabilities {
	if g == nil {
		return Capabilities{}
	}
	return g.caps
}

// AssertNotLocked fails with ErrCycleLocked when the cycle is locked. It is a
// no-op when the schema does not carry the lock marker.
func (g *Guard) AssertNotLocked(ctx context.Context, reader LockReader, cycleID, organizationID int64) error {
	locked, err := g.IsCycleLocked(ctx, reader, cycleID, organizationID)
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("%w (cycle %d)", ErrCycleLocked, cycleID)
	}
	return nil
}

// IsCycleLocked reports the lock flag, false when locking is unsupported.
func (g *Guard) IsCycleLocked(ctx context.Context, reader LockReader, cycleID, organizationID int64) (bool, error) {
	if g == nil || !g.caps.InventoryLock {
		return false, nil
	}
	if reader == nil {
		return false, errors.New("cycles: lock reader required")
	}
	locked, found, err := reader.CycleLockState(ctx, cycleID, organizationID)
	if err != nil {
		return false, fmt.Errorf("cycles: read lock state: %w", err)
	}
	if !found {
		return false, fmt.Errorf("%w (cycle %d)", ErrCycleNotFound, cycleID)
	}
	return locked, nil
}
