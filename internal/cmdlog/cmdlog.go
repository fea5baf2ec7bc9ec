package cmdlog

import (
	"go.uber.org/zap"

	"flatseek/internal/metrics"
)

// Run executes a CLI command body, counting invocation and outcome.
func Run(cmd string, log *zap.Logger, f func() error) error {
	metrics.IncCommandRun(cmd)
	err := f()
	if err != nil {
		metrics.IncCommandError(cmd)
		log.Error("command failed", zap.String("command", cmd), zap.Error(err))
	} else {
		log.Info("command ok", zap.String("command", cmd))
	}
	return err
}
