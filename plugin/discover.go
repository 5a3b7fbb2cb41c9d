package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Discover finds every subdirectory of dir that contains a plugin.json.
// Directories without a manifest are skipped. Manifests that fail to
// parse are reported together in the returned error; the plugins that did
// parse are still returned.
func Discover(dir string, logger *slog.Logger) ([]Discovered, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugins directory: %w", err)
	}

	var discovered []Discovered
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			logger.Debug("skipping directory without manifest", "dir", pluginDir)
			continue
		}

		info, err := ReadManifest(manifestPath)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		discovered = append(discovered, Discovered{Dir: pluginDir, Info: info})
	}

	ids := make([]string, 0, len(discovered))
	for _, d := range discovered {
		ids = append(ids, d.Info.ID)
	}
	logger.Info("discovered plugins", "count", len(discovered), "ids", ids)

	return discovered, errors.Join(errs...)
}
