package adapter

import (
	"context"
	"fmt"
)

// retagAdapter extends the exec adapter for container-style registries that
// support retagging. Rollback retags the previous version as current
// instead of returning an advisory failure.
type retagAdapter struct {
	*execAdapter
}

func (a *retagAdapter) Rollback(ctx context.Context, pkg, previousVersion string) Result {
	commands := []string{
		fmt.Sprintf("docker pull %s:%s", pkg, previousVersion),
		fmt.Sprintf("docker tag %s:%s %s:latest", pkg, previousVersion, pkg),
		fmt.Sprintf("docker push %s:latest", pkg),
	}

	for _, cmd := range commands {
		output, exitCode, err := a.runner.Run(ctx, "", cmd)
		if err != nil {
			msg := output
			if msg == "" {
				msg = err.Error()
			}
			return Result{
				Success:   false,
				Message:   msg,
				ExitCode:  exitCode,
				Operation: "rollback",
			}
		}
	}

	a.logger.Info("rolled back via retag", "package", pkg, "version", previousVersion)
	return Result{
		Success: true,
		Message: fmt.Sprintf("retagged %s:%s as current on %s", pkg, previousVersion, a.cfg.Name),
	}
}
