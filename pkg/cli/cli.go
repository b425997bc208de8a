package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "agrotwin",
		Usage: "Agricultural assistant with an adaptive question ranking",
		Commands: []*cli.Command{
			fieldCommand(),
			scanCommand(),
			chatCommand(),
			questionsCommand(),
			sessionsCommand(),
			serveCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
