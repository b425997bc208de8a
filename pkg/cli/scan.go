package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/agrotwin/agrotwin/pkg/service/field"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func scanCommand() *cli.Command {
	var (
		cfg       config
		fieldPath string
		row, col  int64
		crop      string
		disease   string
		image     string
		output    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "field",
			Aliases:     []string{"f"},
			Usage:       "Path of the field configuration file",
			Value:       "field.yaml",
			Sources:     cli.EnvVars("AGROTWIN_FIELD"),
			Destination: &fieldPath,
		},
		&cli.IntFlag{
			Name:        "row",
			Usage:       "Row of the plot to scan",
			Required:    true,
			Destination: &row,
		},
		&cli.IntFlag{
			Name:        "col",
			Usage:       "Column of the plot to scan",
			Required:    true,
			Destination: &col,
		},
		&cli.StringFlag{
			Name:        "crop",
			Usage:       "Crop planted in the field",
			Value:       field.DefaultCrop,
			Destination: &crop,
		},
		&cli.StringFlag{
			Name:        "disease",
			Usage:       "Disease reported for defective plots",
			Value:       field.DefaultDisease,
			Destination: &disease,
		},
		&cli.StringFlag{
			Name:        "image",
			Usage:       "URL or path of the captured plot image",
			Destination: &image,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the scan result to this file instead of stdout",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "scan",
		Usage: "Scan one plot of the field and produce the chat context",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			fieldCfg, err := field.Load(fieldPath)
			if err != nil {
				return err
			}

			scan, err := fieldCfg.Scan(model.Position{Row: int(row), Col: int(col)}, crop, disease)
			if err != nil {
				return err
			}
			scan.ImageURL = image

			data, err := json.MarshalIndent(scan, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to marshal scan result")
			}

			if output != "" {
				if err := os.WriteFile(output, data, 0644); err != nil {
					return goerr.Wrap(err, "failed to write scan result", goerr.V("path", output))
				}
				logging.From(ctx).Info("scan result saved", "path", output)
			} else {
				fmt.Fprintln(c.Root().Writer, string(data))
			}

			status := color.GreenString(string(scan.Status))
			if scan.Status == model.HealthStatusDefective {
				status = color.RedString(string(scan.Status))
			}
			fmt.Fprintf(c.Root().ErrWriter, "plot (%d,%d): %s\n", row, col, status)

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx, storage)
			if err != nil {
				return err
			}

			now := time.Now()
			session := &model.Session{
				ID:        model.NewSessionID(),
				Scan:      scan,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := repo.PutSession(ctx, session); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().ErrWriter, "session: %s\n", session.ID)
			return nil
		},
	}
}

// readScan loads a scan result written by the scan command
func readScan(path string) (model.ScanContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ScanContext{}, goerr.Wrap(err, "failed to read scan file", goerr.V("path", path))
	}

	var scan model.ScanContext
	if err := json.Unmarshal(data, &scan); err != nil {
		return model.ScanContext{}, goerr.Wrap(err, "failed to parse scan file", goerr.V("path", path))
	}

	if err := scan.Status.Validate(); err != nil {
		return model.ScanContext{}, goerr.Wrap(err, "scan file has invalid status", goerr.V("path", path))
	}

	return scan, nil
}
