package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/usecase/chat"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func questionsCommand() *cli.Command {
	var (
		cfg         config
		sessionID   string
		selectID    string
		matchText   string
		restorePath string
		reset       bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"id"},
			Usage:       "Session ID owning the question catalog",
			Sources:     cli.EnvVars("AGROTWIN_SESSION_ID"),
			Required:    true,
			Destination: &sessionID,
		},
		&cli.StringFlag{
			Name:        "select",
			Usage:       "Record an explicit selection of the question ID",
			Destination: &selectID,
		},
		&cli.StringFlag{
			Name:        "match",
			Usage:       "Record free text and reinforce the closest question",
			Destination: &matchText,
		},
		&cli.StringFlag{
			Name:        "restore",
			Usage:       "Replace the catalog with a JSON snapshot file",
			Destination: &restorePath,
		},
		&cli.BoolFlag{
			Name:        "reset",
			Usage:       "Replace the catalog with the default questions",
			Destination: &reset,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, bankFlags(&cfg)...)

	return &cli.Command{
		Name:  "questions",
		Usage: "Show or update the suggested question ranking of a session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			w := c.Root().Writer

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			id := model.SessionID(sessionID)
			bank, err := chat.LoadCatalog(ctx, storage, id, cfg.bankOptions()...)
			if err != nil {
				return err
			}

			changed := true
			switch {
			case reset:
				bank.Initialize(model.DefaultQuestions())

			case restorePath != "":
				data, err := os.ReadFile(restorePath)
				if err != nil {
					return goerr.Wrap(err, "failed to read catalog snapshot", goerr.V("path", restorePath))
				}
				if err := bank.Restore(data); err != nil {
					logging.From(ctx).Warn("malformed catalog snapshot, default installed", "error", err)
					fmt.Fprintln(w, color.YellowString("snapshot is malformed, default questions installed"))
				}

			case selectID != "":
				q, err := bank.RecordExplicitSelection(model.QuestionID(selectID))
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "selected [%s] %s (%.3f)\n\n", q.ID, q.Text, q.Weight)

			case matchText != "":
				match, ok := bank.RecordFreeText(matchText)
				printMatch(w, match, ok)

			default:
				changed = false
			}

			if changed {
				if err := chat.SaveCatalog(ctx, storage, id, bank); err != nil {
					return err
				}
			}

			printGroups(w, bank.Groups())
			return nil
		},
	}
}

func printMatch(w io.Writer, match *questionbank.Match, ok bool) {
	switch {
	case match == nil:
		fmt.Fprintln(w, color.YellowString("catalog is empty"))
	case ok:
		fmt.Fprintf(w, "matched [%s] %s (score %.3f, weight %.3f)\n\n",
			match.Question.ID, match.Question.Text, match.Score, match.Question.Weight)
	default:
		fmt.Fprintf(w, "no close question, nearest [%s] %s (score %.3f)\n\n",
			match.Question.ID, match.Question.Text, match.Score)
	}
}
