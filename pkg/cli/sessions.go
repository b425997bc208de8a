package cli

import (
	"context"
	"fmt"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
)

func sessionsCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Number of sessions to skip",
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of sessions to show",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "sessions",
		Usage: "List stored chat sessions, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx, storage)
			if err != nil {
				return err
			}

			sessions, err := repo.ListSessions(ctx, int(offset), int(limit))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(sessions) == 0 {
				fmt.Fprintln(w, "no sessions")
				return nil
			}

			for _, s := range sessions {
				status := color.GreenString(string(s.Scan.Status))
				if s.Scan.Status == model.HealthStatusDefective {
					status = color.RedString(string(s.Scan.Status))
				}
				fmt.Fprintf(w, "%s  %s  (%d,%d) %s / %s  %s\n",
					s.ID,
					s.UpdatedAt.Format("2006-01-02 15:04:05"),
					s.Scan.Position.Row, s.Scan.Position.Col,
					s.Scan.CropType, s.Scan.Disease,
					status,
				)
			}
			return nil
		},
	}
}
