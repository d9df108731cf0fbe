package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/whereabouts/internal/datastore"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

func newIngestCmd(a *app) *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Append newline-delimited data points from a file or stdin",
		Example: `  collector | whereabouts ingest
  whereabouts ingest readings.ndjson --category raw_data`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			written, skipped, err := datastore.Ingest(cmd.Context(), svc.Store(), r, categories...)
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d points, skipped %d\n", written, skipped)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to append to (default raw_data)")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		q        datastore.Query
		from, to string
		since    time.Duration
		sorted   bool
	)
	cmd := &cobra.Command{
		Use:   "query --type TYPE [flags]",
		Short: "Print the points of the given types in a time window",
		Example: `  whereabouts query --type android.sensor.pressure --since 10m
  whereabouts query --type android.sensor.wifi_scan --key aa:bb:cc:dd:ee:ff --from 2025-03-01T12:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := a.instant("to", to)
			if err != nil {
				return err
			}
			start := end.Add(-since)
			if from != "" {
				if start, err = timeutil.ParseISO(from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if start.After(end) {
				return fmt.Errorf("window start %s is after end %s", timeutil.FormatISO(start), timeutil.FormatISO(end))
			}
			q.StartedAt, q.EndedAt = start, end

			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			points, err := svc.Store().Get(cmd.Context(), q)
			if err != nil {
				return err
			}
			if sorted {
				datastore.SortByCreatedAt(points)
			}
			if points == nil {
				points = []datastore.DataPoint{}
			}
			return writeJSON(cmd.OutOrStdout(), points)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&q.Types, "type", nil, "types to match, hierarchically (repeatable)")
	f.StringSliceVar(&q.Keys, "key", nil, "only points with one of these keys")
	f.StringSliceVar(&q.Categories, "category", nil, "categories to read (default all)")
	f.IntVar(&q.Limit, "limit", 0, "maximum number of points")
	f.StringVar(&from, "from", "", "window start, ISO-8601 (default --to minus --since)")
	f.StringVar(&to, "to", "", "window end, ISO-8601 (default now)")
	f.DurationVar(&since, "since", time.Hour, "window length when --from is not set")
	f.BoolVar(&sorted, "sort", true, "order by created_at")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newDevicesCmd(a *app) *cobra.Command {
	var (
		field      string
		categories []string
	)
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the distinct devices (or types, or keys) seen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			values, err := svc.Store().UniqueValues(cmd.Context(), field, categories...)
			if err != nil {
				return err
			}
			for _, v := range values {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", datastore.FieldDevice, "field to list: device, type or key")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to scan (default all)")
	return cmd
}

func newLastSeenCmd(a *app) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "last-seen DEVICE",
		Short: "Print when a device last reported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			ts, ok, err := svc.Store().LastTimestampForDevice(cmd.Context(), args[0], category)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no points from device %q in %s", args[0], category)
			}
			fmt.Fprintln(cmd.OutOrStdout(), timeutil.FormatISO(ts))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", datastore.CategoryRaw, "category to search")
	return cmd
}

func newTailCmd(a *app) *cobra.Command {
	var (
		category string
		n        int
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent points of a category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			points, err := svc.Store().Tail(cmd.Context(), category, n)
			if err != nil {
				return err
			}
			if points == nil {
				points = []datastore.DataPoint{}
			}
			return writeJSON(cmd.OutOrStdout(), points)
		},
	}
	cmd.Flags().StringVar(&category, "category", datastore.CategoryRaw, "category to read")
	cmd.Flags().IntVarP(&n, "lines", "n", 10, "number of points")
	return cmd
}
