package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/field"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func fieldCommand() *cli.Command {
	var (
		cfg    config
		spots  []string
		random bool
		seed   int64
		output string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "spot",
			Aliases:     []string{"s"},
			Usage:       "Defective plot as row:col (repeat for each of the 15 spots)",
			Destination: &spots,
		},
		&cli.BoolFlag{
			Name:        "random",
			Aliases:     []string{"r"},
			Usage:       "Pick the defective plots at random",
			Destination: &random,
		},
		&cli.IntFlag{
			Name:        "seed",
			Usage:       "Seed for --random (0 picks a random seed)",
			Sources:     cli.EnvVars("AGROTWIN_FIELD_SEED"),
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Path of the field configuration file to write",
			Value:       "field.yaml",
			Sources:     cli.EnvVars("AGROTWIN_FIELD"),
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "field",
		Usage: "Create the field configuration with exactly 15 defective plots",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			var fieldCfg *field.Config
			switch {
			case random && len(spots) > 0:
				return goerr.New("--random and --spot are exclusive")

			case random:
				var rng *rand.Rand
				if seed != 0 {
					rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
				} else {
					rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
				}
				fieldCfg = field.Random(rng)

			default:
				positions := make([]model.Position, 0, len(spots))
				for _, s := range spots {
					pos, err := field.ParsePosition(s)
					if err != nil {
						return err
					}
					positions = append(positions, pos)
				}

				var err error
				fieldCfg, err = field.NewConfig(positions)
				if err != nil {
					return err
				}
			}

			if err := fieldCfg.Save(output); err != nil {
				return err
			}
			logging.From(ctx).Info("field configuration saved", "path", output)

			printField(c.Root().Writer, fieldCfg)
			return nil
		},
	}
}

func printField(w io.Writer, cfg *field.Config) {
	defective := color.New(color.FgRed, color.Bold).SprintFunc()
	healthy := color.New(color.FgGreen).SprintFunc()

	for _, line := range strings.Split(strings.TrimSuffix(cfg.Render(), "\n"), "\n") {
		cells := strings.Fields(line)
		for i, cell := range cells {
			if cell == "X" {
				cells[i] = defective(cell)
			} else {
				cells[i] = healthy(cell)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, " "))
	}
}
