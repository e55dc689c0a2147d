package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/agent-web/observe"
	observestore "github.com/PipeOpsHQ/agent-web/observe/store"
	observesqlite "github.com/PipeOpsHQ/agent-web/observe/store/sqlite"
)

type tracesOptions struct {
	requestID uint64
	runID     string
	limit     int
	summary   bool
	since     time.Duration
	jsonOut   bool
}

func newTracesCmd(root *rootOptions) *cobra.Command {
	opts := &tracesOptions{}
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect events recorded in the trace store",
		Long: `Inspect events recorded in the sqlite trace store configured with
trace_store.path. Without filters the most recent events are listed.`,
		Example: `  agent-web traces --limit 20
  agent-web traces --request 42
  agent-web traces --summary --since 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.TraceStore.Path == "" {
				return errors.New("trace_store.path is not configured")
			}
			store, err := observesqlite.New(cfg.TraceStore.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			return runTraces(cmd, store, opts)
		},
	}
	cmd.Flags().Uint64Var(&opts.requestID, "request", 0, "show events for one request id")
	cmd.Flags().StringVar(&opts.runID, "run", "", "show events for one agent run id")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "maximum number of events")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "print aggregate counts instead of events")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "with --summary, only count events newer than this")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print events as JSON lines")
	return cmd
}

func runTraces(cmd *cobra.Command, store observestore.Store, opts *tracesOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.summary {
		query := observestore.MetricsQuery{}
		if opts.since > 0 {
			since := time.Now().UTC().Add(-opts.since)
			query.Since = &since
		}
		summary, err := store.AggregateMetrics(ctx, query)
		if err != nil {
			return err
		}
		return printSummary(out, summary)
	}

	var (
		events []observe.Event
		err    error
	)
	switch {
	case opts.requestID > 0:
		events, err = store.ListEventsByRequest(ctx, opts.requestID)
	case opts.runID != "":
		events, err = store.ListEventsByRun(ctx, opts.runID, observestore.ListQuery{Limit: opts.limit})
	default:
		events, err = store.ListRecent(ctx, observestore.ListQuery{Limit: opts.limit})
	}
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return err
			}
		}
		return nil
	}
	return printEvents(out, events)
}

func printEvents(out io.Writer, events []observe.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "no events")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tREQUEST\tKIND\tSTATUS\tOUTCOME\tCODE\tDURATION\tDETAIL")
	for _, e := range events {
		request := "-"
		if e.RequestID > 0 {
			request = fmt.Sprintf("%d", e.RequestID)
		}
		detail := e.Error
		if detail == "" {
			detail = e.Message
		}
		code := "-"
		if e.StatusCode > 0 {
			code = fmt.Sprintf("%d", e.StatusCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.Timestamp.Format(time.RFC3339),
			request,
			e.Kind,
			e.Status,
			dash(e.Outcome),
			code,
			e.DurationMs,
			dash(detail),
		)
	}
	return tw.Flush()
}

func printSummary(out io.Writer, s observestore.MetricsSummary) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "requests\t%d\n", s.Requests)
	fmt.Fprintf(tw, "requests failed\t%d\n", s.RequestsFailed)
	fmt.Fprintf(tw, "throttled\t%d\n", s.Throttled)
	fmt.Fprintf(tw, "runs completed\t%d\n", s.RunsCompleted)
	fmt.Fprintf(tw, "runs failed\t%d\n", s.RunsFailed)
	fmt.Fprintf(tw, "provider calls\t%d\n", s.ProviderCalls)
	fmt.Fprintf(tw, "provider failures\t%d\n", s.ProviderFailures)
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
