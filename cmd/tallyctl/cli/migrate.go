package cli

import (
	"fmt"
	"io"
)

// Migrator applies schema migrations.
type Migrator interface {
	Up() error
	Down() error
}

// MigrateCommand runs the requested direction and returns the exit code.
func MigrateCommand(m Migrator, direction string, stderr io.Writer) int {
	var err error
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		fmt.Fprintf(stderr, "unknown migrate direction %q (want up or down)\n", direction)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "migrate %s: %v\n", direction, err)
		return 1
	}
	return 0
}
