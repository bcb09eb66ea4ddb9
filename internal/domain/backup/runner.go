package backup

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner executes one dump or restore against the live database.
type Runner interface {
	// Dump writes the backup to destPath.
	Dump(ctx context.Context, kind, destPath string) error
	// Restore replays the file at srcPath.
	Restore(ctx context.Context, srcPath string) error
}

// PGRunner shells out to pg_dump and pg_restore. The postgres client tools
// are the only supported way to get a consistent dump of a running cluster,
// so this is exec, not a driver call.
type PGRunner struct {
	databaseURL string
}

func NewPGRunner(databaseURL string) *PGRunner {
	return &PGRunner{databaseURL: databaseURL}
}

func (r *PGRunner) Dump(ctx context.Context, kind, destPath string) error {
	args := []string{"--format=custom", "--file=" + destPath}
	if kind == KindData {
		args = append(args, "--data-only")
	}
	args = append(args, r.databaseURL)
	return runCommand(ctx, "pg_dump", args...)
}

func (r *PGRunner) Restore(ctx context.Context, srcPath string) error {
	args := []string{"--clean", "--if-exists", "--dbname=" + r.databaseURL, srcPath}
	return runCommand(ctx, "pg_restore", args...)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s: %s", name, msg)
	}
	return nil
}
