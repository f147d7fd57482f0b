package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"git.home.luguber.info/inful/flutterci/internal/logfields"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// ScriptExecutor runs a configured command per build. Build coordinates are
// passed through the environment so any build script can pick them up.
type ScriptExecutor struct {
	command string
	logger  *slog.Logger
}

// NewScriptExecutor creates an executor that shells out to command. An empty
// command yields a dry-run executor that records success without doing work,
// useful until a build script is configured.
func NewScriptExecutor(command string, logger *slog.Logger) *ScriptExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptExecutor{command: command, logger: logger}
}

// Execute runs the configured command for one build.
func (e *ScriptExecutor) Execute(ctx context.Context, build *store.Build, repo *store.Repository) error {
	if e.command == "" {
		e.logger.Info("No build command configured, recording success",
			logfields.BuildID(build.ID),
			logfields.Repository(repo.FullName()),
		)
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", e.command)
	cmd.Env = append(os.Environ(),
		"FLUTTERCI_BUILD_ID="+build.ID,
		"FLUTTERCI_REPOSITORY="+repo.FullName(),
		"FLUTTERCI_PROVIDER="+string(repo.Provider),
		"FLUTTERCI_BRANCH="+build.Branch,
		"FLUTTERCI_COMMIT_SHA="+build.CommitSHA,
		"FLUTTERCI_TRIGGER="+string(build.TriggerType),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("build command failed: %w", err)
	}
	return nil
}
