package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/groksearch/internal/config"
	"github.com/dotcommander/groksearch/internal/errs"
	imcp "github.com/dotcommander/groksearch/internal/mcp"
	"github.com/dotcommander/groksearch/internal/metrics"
	"github.com/dotcommander/groksearch/internal/present"
	"github.com/dotcommander/groksearch/internal/tokens"
)

const (
	shutdownGrace     = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func newServeCmd(rt *runtime) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web search tool over MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer withSignals(cmd)()
			return rt.serve(cmd.Context())
		},
	}

	flags := serveCmd.Flags()
	flags.StringVar(&rt.cfg.MCP.Listen, "listen", rt.cfg.MCP.Listen, present.StdoutStyles().FlagDesc.Render(helpText["listen"]))
	flags.StringVar(&rt.cfg.MCP.Path, "path", rt.cfg.MCP.Path, present.StdoutStyles().FlagDesc.Render(helpText["path"]))
	flags.BoolVar(&rt.cfg.Stdio, "stdio", rt.cfg.Stdio, present.StdoutStyles().FlagDesc.Render(helpText["stdio"]))
	return serveCmd
}

func (rt *runtime) serve(ctx context.Context) error {
	mgr, closeStore, err := rt.openManager(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := rt.newSearchService(mgr)
	if err != nil {
		return err
	}
	srv := imcp.NewServer(svc, imcp.Info{Name: rt.cfg.MCP.Name, Version: rt.build.Version}, rt.log)

	stop, err := scheduleRefresh(ctx, mgr, rt.cfg.Tokens.RefreshSchedule, rt.log)
	if err != nil {
		return err
	}
	defer stop()

	if rt.cfg.Stdio {
		rt.log.Info().Msg("serving on stdio")
		if err := imcp.ServeStdio(ctx, srv); err != nil && !errors.Is(err, context.Canceled) {
			return errs.Error{Err: err, Reason: "The stdio server stopped."}
		}
		return nil
	}

	ln, err := net.Listen("tcp", rt.cfg.MCP.Listen)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not listen on " + rt.cfg.MCP.Listen + "."}
	}
	rt.log.Info().
		Str("addr", ln.Addr().String()).
		Str("path", rt.cfg.MCP.Path).
		Str("metrics", rt.cfg.MCP.MetricsPath).
		Msg("serving")
	if err := serveHTTP(ctx, ln, newMux(rt.cfg.MCP, srv)); err != nil {
		return errs.Error{Err: err, Reason: "The server stopped."}
	}
	return nil
}

// newMux serves the tool endpoint and the metrics on one mux.
func newMux(cfg config.MCP, srv *server.MCPServer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, imcp.HTTPHandler(srv, cfg.Path))
	if cfg.MetricsPath != "" && cfg.MetricsPath != cfg.Path {
		mux.Handle(cfg.MetricsPath, metrics.Handler())
	}
	return mux
}

// serveHTTP serves handler on ln until ctx is done, then shuts down within
// the grace period.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait() //nolint:wrapcheck
}

// scheduleRefresh reloads the token pool on schedule until the returned
// func is called.
func scheduleRefresh(ctx context.Context, mgr *tokens.Manager, schedule string, log zerolog.Logger) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := mgr.Reload(ctx); err != nil {
			log.Warn().Err(err).Msg("scheduled token refresh failed")
			return
		}
		log.Debug().Interface("available", mgr.Available()).Msg("tokens refreshed")
	}); err != nil {
		return nil, errs.Error{Err: err, Reason: "Invalid tokens.refresh-schedule setting."}
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
