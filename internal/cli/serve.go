package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/agent-web/frontend"
	"github.com/PipeOpsHQ/agent-web/internal/config"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP front end",
		Long: `Start the HTTP front end.

Routes:
  /, /index.html              the static index page
  /cgi-bin/agent_script.py    POST query=<text> to ask the agent
  anything else               404

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.Log, os.Stderr)
	rt, err := buildRuntime(ctx, cfg, logger, os.Stderr)
	defer rt.Close()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := frontend.NewMetrics(reg)

	dispatcher, err := frontend.NewDispatcher(rt.agent,
		frontend.WithLogger(logger),
		frontend.WithObserver(rt.observer),
		frontend.WithMetrics(metrics),
		frontend.WithAgentTimeout(cfg.Agent.Timeout),
		frontend.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		frontend.WithExposeErrors(cfg.Server.ExposeErrors),
	)
	if err != nil {
		return err
	}

	serverCfg := frontend.Config{
		Addr:              cfg.Server.Addr,
		AgentPath:         cfg.Server.AgentPath,
		IndexPath:         cfg.Static.IndexPath,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		Logger:            logger,
		Metrics:           metrics,
	}
	if rt.tracerProvider != nil {
		serverCfg.TracerProvider = rt.tracerProvider
	}
	server, err := frontend.NewServer(serverCfg, dispatcher)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		metricsServer := frontend.NewMetricsServer(cfg.Metrics.Addr, frontend.MetricsHandler(reg), logger)
		metricsDone := make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := metricsServer.ListenAndServe(ctx); !isShutdown(err) {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
		defer func() {
			_ = metricsServer.Close()
			<-metricsDone
		}()
	}

	if err := server.ListenAndServe(ctx); !isShutdown(err) {
		return err
	}
	return nil
}
