// Package cli implements the whereabouts command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/whereabouts/internal/config"
	"github.com/banshee-data/whereabouts/internal/fsutil"
	"github.com/banshee-data/whereabouts/internal/locator"
	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
	"github.com/banshee-data/whereabouts/internal/version"
)

// app carries the state shared by every subcommand.
type app struct {
	settingsPath string
	debug        bool

	fsys  fsutil.FileSystem
	clock timeutil.Clock
}

// NewRootCmd returns the whereabouts command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{fsys: fsutil.OSFileSystem{}, clock: timeutil.RealClock{}})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "whereabouts",
		Short: "Indoor positioning from ambient sensor fingerprints",
		Long: `whereabouts stores sensor readings, summarises them into fingerprints and
infers which calibrated location a device is in.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.debug {
				monitoring.SetDebug(true)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.settingsPath, "settings", "", "settings file (default "+config.DefaultSettingsPath+" when present)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newIngestCmd(a),
		newQueryCmd(a),
		newDevicesCmd(a),
		newLastSeenCmd(a),
		newTailCmd(a),
		newConfigCmd(a),
		newFingerprintCmd(a),
		newInferCmd(a),
		newWatchCmd(a),
		newMigrateCmd(a),
	)
	return root
}

// settings loads the --settings file, or the default file when it exists.
func (a *app) settings() (*config.Settings, error) {
	path := a.settingsPath
	if path == "" {
		if _, err := os.Stat(config.DefaultSettingsPath); err != nil {
			s := config.EmptySettings()
			a.applyDebug(s)
			return s, nil
		}
		path = config.DefaultSettingsPath
	}
	s, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}
	a.applyDebug(s)
	return s, nil
}

func (a *app) applyDebug(s *config.Settings) {
	if s.GetDebug() {
		monitoring.SetDebug(true)
	}
}

func (a *app) open() (*locator.Service, error) {
	s, err := a.settings()
	if err != nil {
		return nil, err
	}
	return locator.Open(s, a.fsys, a.clock)
}

// instant parses an ISO-8601 flag value, or returns the current time when it
// is empty.
func (a *app) instant(flag, value string) (time.Time, error) {
	if value == "" {
		return a.clock.Now(), nil
	}
	t, err := timeutil.ParseISO(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput returns the contents of path, or of stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
