package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/usecase/chat"
	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
		scanPath  string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"id"},
			Usage:       "Session ID to continue",
			Sources:     cli.EnvVars("AGROTWIN_SESSION_ID"),
			Destination: &sessionID,
		},
		&cli.StringFlag{
			Name:        "scan",
			Usage:       "Scan result file written by the scan command",
			Destination: &scanPath,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, bankFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk with the assistant about a scanned plot",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if sessionID == "" && scanPath == "" {
				return goerr.New("either --session or --scan is required")
			}

			var scan model.ScanContext
			if scanPath != "" {
				var err error
				if scan, err = readScan(scanPath); err != nil {
					return err
				}
			}

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx, storage)
			if err != nil {
				return err
			}

			if scanPath == "" {
				if _, err := repo.GetSession(ctx, model.SessionID(sessionID)); err != nil {
					return goerr.Wrap(err, "cannot resume session without --scan", goerr.V("session_id", sessionID))
				}
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			session, err := chat.New(ctx, chat.NewInput{
				Gemini:    gemini,
				Storage:   storage,
				Repo:      repo,
				SessionID: model.SessionID(sessionID),
				Scan:      scan,

				BankOptions: cfg.bankOptions(),
			})
			if err != nil {
				return goerr.Wrap(err, "failed to create chat session")
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          color.New(color.FgGreen, color.Bold).Sprint("Farmer> "),
				HistoryFile:     filepath.Join(cfg.dataDir, "chat_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          c.Root().Writer,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			repl := &chatREPL{session: session, w: c.Root().Writer}
			repl.printIntro()

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				done, err := repl.handle(ctx, strings.TrimSpace(line))
				if err != nil {
					return err
				}
				if done {
					break
				}
			}

			if err := session.Save(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "\nsession %s saved\n", session.ID())
			return nil
		},
	}
}

type chatREPL struct {
	session *chat.Session
	w       io.Writer
}

func (r *chatREPL) printIntro() {
	bold := color.New(color.FgCyan, color.Bold).SprintFunc()
	scan := r.session.Scan()

	fmt.Fprintf(r.w, "%s session %s\n", bold("AGRO-TWIN"), r.session.ID())
	fmt.Fprintf(r.w, "plot (%d,%d) %s: %s\n", scan.Position.Row, scan.Position.Col, scan.CropType, scan.Disease)
	fmt.Fprintln(r.w, "Type /questions to see suggestions, /ask <id> to pick one, /reset to forget the ranking, exit to quit.")
	fmt.Fprintln(r.w)

	for _, turn := range r.session.Turns() {
		r.printTurn(turn)
	}
}

func (r *chatREPL) printTurn(turn model.Turn) {
	if turn.Role == model.RoleUser {
		fmt.Fprintf(r.w, "%s %s\n\n", color.GreenString("Farmer:"), turn.Content)
		return
	}
	fmt.Fprintf(r.w, "%s %s\n\n", color.New(color.FgCyan, color.Bold).Sprint("AGRO-TWIN:"), turn.Content)
}

// handle runs one line of input and reports whether the loop should end
func (r *chatREPL) handle(ctx context.Context, line string) (bool, error) {
	switch {
	case line == "":
		return false, nil

	case line == "exit" || line == "quit":
		return true, nil

	case line == "/questions":
		printGroups(r.w, r.session.Groups())
		return false, nil

	case line == "/reset":
		r.session.Reset()
		fmt.Fprintln(r.w, "question ranking reset")
		printGroups(r.w, r.session.Groups())
		return false, nil

	case strings.HasPrefix(line, "/ask"):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/ask"))
		if id == "" {
			fmt.Fprintln(r.w, color.YellowString("usage: /ask <question id>"))
			return false, nil
		}

		reply, err := r.wait(func() (*chat.Reply, error) {
			return r.session.Select(ctx, model.QuestionID(id))
		})
		if errors.Is(err, questionbank.ErrQuestionNotFound) {
			fmt.Fprintln(r.w, color.YellowString("no question with id %q", id))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		r.printReply(ctx, reply)
		return false, nil

	default:
		reply, err := r.wait(func() (*chat.Reply, error) {
			return r.session.Send(ctx, line)
		})
		if err != nil {
			return false, err
		}
		r.printReply(ctx, reply)
		return false, nil
	}
}

func (r *chatREPL) wait(fn func() (*chat.Reply, error)) (*chat.Reply, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(r.w))
	s.Suffix = " thinking..."
	s.Start()
	defer s.Stop()

	return fn()
}

func (r *chatREPL) printReply(ctx context.Context, reply *chat.Reply) {
	fmt.Fprintln(r.w)
	r.printTurn(model.Turn{Role: model.RoleAssistant, Content: reply.Text})

	if reply.Fallback {
		fmt.Fprintln(r.w, color.YellowString("(offline answer)"))
	}
	if reply.Matched && reply.Match != nil {
		fmt.Fprintf(r.w, "%s %s\n\n", color.HiBlackString("related:"), reply.Match.Question.Text)
	}

	// persist after every reply so an interrupted chat keeps its ranking
	if err := r.session.Save(ctx); err != nil {
		fmt.Fprintln(r.w, color.RedString("failed to save session: %v", err))
	}
}

func printGroups(w io.Writer, groups []questionbank.Group) {
	header := color.New(color.FgYellow, color.Bold).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	for _, g := range groups {
		fmt.Fprintln(w, header(g.Category))
		for _, q := range g.Questions {
			fmt.Fprintf(w, "  [%s] %s %s\n", q.ID, q.Text, dim(fmt.Sprintf("(%.3f)", q.Weight)))
		}
	}
	fmt.Fprintln(w)
}
