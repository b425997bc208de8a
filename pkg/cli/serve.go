package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agrotwin/agrotwin/pkg/server"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Address to listen on",
			Value:       ":8080",
			Sources:     cli.EnvVars("AGROTWIN_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, bankFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat API over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx, storage)
			if err != nil {
				return err
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			srv := server.New(
				server.WithGemini(gemini),
				server.WithStorage(storage),
				server.WithRepository(repo),
				server.WithBankOptions(cfg.bankOptions()...),
			)

			return srv.Listen(ctx, addr)
		},
	}
}
