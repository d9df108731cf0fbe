package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/whereabouts/internal/inference"
	"github.com/banshee-data/whereabouts/internal/monitoring"
)

func newInferCmd(a *app) *cobra.Command {
	var (
		at      string
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "infer CONFIG",
		Short: "Run inference once and print the result",
		Long: `Run inference once over the configuration's window ending at --at. When no
prediction is possible (no data, no calibrated fingerprints or an unknown
configuration) a message is printed and the exit status is 0.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := a.instant("at", at)
			if err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Infer(cmd.Context(), args[0], now)
			if errors.Is(err, inference.ErrNoPrediction) {
				fmt.Fprintf(cmd.OutOrStdout(), "no prediction available: %v\n", err)
				return nil
			}
			if err != nil {
				return err
			}
			if summary {
				printSummary(cmd.OutOrStdout(), args[0], res)
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "window end, ISO-8601 (default now)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print one line instead of the full result")
	return cmd
}

func printSummary(w io.Writer, name string, res *inference.Result) {
	p := res.OverallPrediction
	loc := "none"
	if p.Value != nil {
		loc = *p.Value
	}
	line := fmt.Sprintf("%s\t%s\t%.3f", name, loc, p.Confidence)
	if p.RunnerUp != nil {
		line += fmt.Sprintf("\trunner-up %s %.3f", *p.RunnerUp, *p.RunnerUpConfidence)
	}
	if p.Ambiguous {
		line += "\tambiguous"
	}
	fmt.Fprintln(w, line)
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval      time.Duration
		metricsListen string
	)
	cmd := &cobra.Command{
		Use:   "watch CONFIG...",
		Short: "Run inference periodically until interrupted",
		Example: `  whereabouts watch home --interval 30s
  whereabouts watch home activity --metrics-listen :9109`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := a.settings()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = settings.GetWatchInterval()
			}
			if !cmd.Flags().Changed("metrics-listen") {
				metricsListen = settings.GetMetricsListen()
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if metricsListen != "" {
				shutdown := serveMetrics(metricsListen)
				defer shutdown()
			}

			out := cmd.OutOrStdout()
			return svc.Watch(ctx, args, interval, func(name string, res *inference.Result, err error) {
				switch {
				case err == nil:
					printSummary(out, name, res)
				case errors.Is(err, inference.ErrNoPrediction):
					fmt.Fprintf(out, "%s\tno prediction available: %v\n", name, err)
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "time between runs (default from settings)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9109")
	return cmd
}

// serveMetrics exposes /metrics on addr and returns a function that shuts the
// server down.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		monitoring.Infof("serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Errorf("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			monitoring.Warnf("metrics server shutdown: %v", err)
		}
	}
}
