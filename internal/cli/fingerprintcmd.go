package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/banshee-data/whereabouts/internal/fingerprint"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

func newFingerprintCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fingerprint",
		Aliases: []string{"fp"},
		Short:   "Generate and manage calibrated fingerprints",
	}
	cmd.AddCommand(
		newFingerprintGenerateCmd(a),
		newFingerprintCalibrateCmd(a),
		newFingerprintListCmd(a),
		newFingerprintGetCmd(a),
		newFingerprintSaveCmd(a),
		newFingerprintDeleteCmd(a),
	)
	return cmd
}

func newFingerprintGenerateCmd(a *app) *cobra.Command {
	var configName, at string
	cmd := &cobra.Command{
		Use:   "generate TYPE --config NAME",
		Short: "Print a fingerprint of the configuration's window without saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := a.instant("at", at)
			if err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			fp, err := svc.GenerateFingerprint(cmd.Context(), args[0], configName, end)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), fp)
		},
	}
	cmd.Flags().StringVar(&configName, "config", "", "inference configuration name")
	cmd.Flags().StringVar(&at, "at", "", "window end, ISO-8601 (default now)")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newFingerprintCalibrateCmd(a *app) *cobra.Command {
	var configName, at string
	cmd := &cobra.Command{
		Use:   "calibrate LOCATION --config NAME",
		Short: "Save the current window as the reference fingerprint of a location",
		Example: `  whereabouts fingerprint calibrate kitchen --config home
  whereabouts fingerprint calibrate bedroom --config home --at 2025-03-01T22:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := a.instant("at", at)
			if err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			fp, err := svc.Calibrate(cmd.Context(), args[0], configName, end)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s with %d paths\n", fp.Type, len(fp.Statistics))
			return nil
		},
	}
	cmd.Flags().StringVar(&configName, "config", "", "inference configuration name")
	cmd.Flags().StringVar(&at, "at", "", "window end, ISO-8601 (default now)")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newFingerprintListCmd(a *app) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List calibrated fingerprint types",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			var fps []*fingerprint.Fingerprint
			if namespace != "" {
				fps, err = cat.InNamespace(namespace)
			} else {
				fps, err = allFingerprints(cat)
			}
			if err != nil {
				return err
			}
			for _, fp := range fps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d paths\tupdated %s\n", fp.Type, len(fp.Statistics), timeutil.FormatISO(fp.UpdatedAt))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "only types in this namespace, e.g. location")
	return cmd
}

func newFingerprintGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get TYPE",
		Short: "Print a calibrated fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			fp, err := cat.Get(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), fp)
		},
	}
}

func newFingerprintSaveCmd(a *app) *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "save FILE",
		Short: "Store a fingerprint document in the catalog (- for stdin)",
		Long: `Store a fingerprint document under its type. With --update the type must
already exist and its updated_at is refreshed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var fp fingerprint.Fingerprint
			if err := json.Unmarshal(data, &fp); err != nil {
				return fmt.Errorf("parse fingerprint: %w", err)
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			if update {
				_, err = cat.Update(fp.Type, &fp)
			} else {
				err = cat.Save(&fp)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", fp.Type)
			return nil
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "require the fingerprint to exist")
	return cmd
}

func newFingerprintDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TYPE",
		Short: "Remove a calibrated fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			if err := cat.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) catalog() (*fingerprint.Catalog, error) {
	s, err := a.settings()
	if err != nil {
		return nil, err
	}
	return fingerprint.NewCatalog(a.fsys, s.FingerprintCatalogPath(), a.clock), nil
}

func allFingerprints(cat *fingerprint.Catalog) ([]*fingerprint.Fingerprint, error) {
	all, err := cat.All()
	if err != nil {
		return nil, err
	}
	out := make([]*fingerprint.Fingerprint, 0, len(all))
	for _, fp := range all {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}
