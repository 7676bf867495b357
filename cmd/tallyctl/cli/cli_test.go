package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/jobs"
)

func newTestCLI(t *testing.T) (*JobsCLI, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestTriggerCommandJSON(t *testing.T) {
	c, mr := newTestCLI(t)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := c.TriggerCommand(context.Background(), TriggerOptions{
		Name:       jobs.TaskBalanceVerify,
		Repair:     true,
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode, stderr.String())

	var result TriggerResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	require.Equal(t, jobs.TaskBalanceVerify, result.Type)
	require.Equal(t, jobs.QueueDefault, result.Queue)

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.Equal(t, []string{result.ID}, pending)
}

func TestTriggerRebuildNeedsScope(t *testing.T) {
	c, _ := newTestCLI(t)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := c.TriggerCommand(context.Background(), TriggerOptions{
		Name:           jobs.TaskBalanceRebuild,
		OrganizationID: 1,
		Stdout:         stdout,
		Stderr:         stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "needs -org, -project and -cycle")
	require.Empty(t, stdout.String())
}

func TestTriggerUnknownJob(t *testing.T) {
	c, _ := newTestCLI(t)
	_, err := c.Trigger(context.Background(), TriggerOptions{Name: "gl:integrity"})
	require.ErrorContains(t, err, "unsupported job")
}

func TestTriggerCleanupText(t *testing.T) {
	c, _ := newTestCLI(t)

	stdout := new(bytes.Buffer)
	exitCode := c.TriggerCommand(context.Background(), TriggerOptions{
		Name:   jobs.TaskIdempotencyCleanup,
		Stdout: stdout,
		Stderr: new(bytes.Buffer),
	})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "enqueued "+jobs.TaskIdempotencyCleanup)
}

type stubMigrator struct {
	up, down int
	err      error
}

func (m *stubMigrator) Up() error   { m.up++; return m.err }
func (m *stubMigrator) Down() error { m.down++; return m.err }

func TestMigrateCommand(t *testing.T) {
	m := &stubMigrator{}
	stderr := new(bytes.Buffer)
	require.Zero(t, MigrateCommand(m, "up", stderr))
	require.Zero(t, MigrateCommand(m, "down", stderr))
	require.Equal(t, 1, m.up)
	require.Equal(t, 1, m.down)

	require.Equal(t, 2, MigrateCommand(m, "sideways", stderr))
	require.Contains(t, stderr.String(), "unknown migrate direction")

	failing := &stubMigrator{err: errors.New("dirty database")}
	stderr.Reset()
	require.Equal(t, 1, MigrateCommand(failing, "up", stderr))
	require.Contains(t, stderr.String(), "dirty database")
}
