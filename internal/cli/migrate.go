package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/whereabouts/internal/config"
	"github.com/banshee-data/whereabouts/internal/datastore"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
		Long:  `Manage the SQLite schema. Only meaningful with "backend": "sqlite".`,
	}
	step := func(use, short string, fn func(*datastore.SQLiteStore) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.openSQLite()
				if err != nil {
					return err
				}
				defer s.Close()
				if err := fn(s); err != nil {
					return err
				}
				return printVersion(cmd, s)
			},
		}
	}
	cmd.AddCommand(
		step("up", "Apply pending migrations", (*datastore.SQLiteStore).MigrateUp),
		step("down", "Roll back the latest migration", (*datastore.SQLiteStore).MigrateDown),
		step("status", "Print the schema version", func(*datastore.SQLiteStore) error { return nil }),
	)
	return cmd
}

func printVersion(cmd *cobra.Command, s *datastore.SQLiteStore) error {
	v, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", v, state)
	return nil
}

func (a *app) openSQLite() (*datastore.SQLiteStore, error) {
	s, err := a.settings()
	if err != nil {
		return nil, err
	}
	if b := s.GetBackend(); b != config.BackendSQLite {
		return nil, fmt.Errorf("migrate needs the sqlite backend, settings select %q", b)
	}
	return datastore.OpenSQLite(s.GetSQLitePath(), datastore.Options{
		Categories:  s.GetCategories(),
		Clock:       a.clock,
		SkipMigrate: true,
	})
}
