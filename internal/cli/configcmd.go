package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/whereabouts/internal/inference"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage inference configurations",
	}
	cmd.AddCommand(newConfigListCmd(a), newConfigGetCmd(a), newConfigSaveCmd(a), newConfigDeleteCmd(a))
	return cmd
}

func newConfigListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List configuration names",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := a.configStore()
			if err != nil {
				return err
			}
			names, err := configs.Names()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newConfigGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Print a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := a.configStore()
			if err != nil {
				return err
			}
			cfg, err := configs.Get(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newConfigSaveCmd(a *app) *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "save FILE",
		Short: "Validate and store a configuration document (- for stdin)",
		Long: `Validate and store a configuration document. Without --update an existing
configuration of the same name is replaced; with --update it must already
exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			cfg, err := inference.ParseConfig(data)
			if err != nil {
				return err
			}
			configs, err := a.configStore()
			if err != nil {
				return err
			}
			if update {
				err = configs.Update(cfg.Name, cfg)
			} else {
				err = configs.Save(cfg)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", cfg.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "require the configuration to exist")
	return cmd
}

func newConfigDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := a.configStore()
			if err != nil {
				return err
			}
			if err := configs.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

// configStore opens the configuration catalog without touching the data
// store.
func (a *app) configStore() (*inference.ConfigStore, error) {
	s, err := a.settings()
	if err != nil {
		return nil, err
	}
	return inference.NewConfigStore(a.fsys, s.InferenceConfigPath()), nil
}
