package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agrotwin/agrotwin/pkg/service/mcp"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg       config
		transport string
		addr      string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Aliases:     []string{"t"},
			Usage:       "MCP transport (stdio, http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("AGROTWIN_MCP_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Address to listen on for the http transport",
			Value:       ":8081",
			Sources:     cli.EnvVars("AGROTWIN_MCP_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, bankFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Expose the question ranking as MCP tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			srv, err := mcp.New(storage, cfg.bankOptions()...)
			if err != nil {
				return err
			}

			switch transport {
			case "stdio":
				logging.From(ctx).Info("serving MCP on stdio")
				return srv.RunStdio(ctx)

			case "http":
				return serveMCP(ctx, addr, srv.Handler())

			default:
				return goerr.New("unsupported MCP transport", goerr.V("transport", transport))
			}
		},
	}
}

func serveMCP(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("serving MCP over http", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "MCP http server failed", goerr.V("addr", addr))

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shut down MCP http server")
		}
		return nil
	}
}
