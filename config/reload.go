package config

import (
	"fmt"
	"log/slog"
)

// Reload returns a closure that re-reads path, validates it, and swaps it
// into provider — typically wired to SIGHUP so an operator can change
// renewal tunables or CAA policy without restarting the coordinator.
// Adapted from the teacher's config.Reload, minus the age-encrypted
// database source this repo has no use for.
func Reload(path string, provider *Provider, logger *slog.Logger) func() error {
	return func() error {
		logger.Debug("config: reloading", "path", path)
		newCfg, err := Load(path)
		if err != nil {
			logger.Error("config: reload failed", "path", path, "error", err)
			return fmt.Errorf("config: reload %q: %w", path, err)
		}
		provider.Update(newCfg)
		logger.Info("config: reloaded", "path", path)
		return nil
	}
}
