package cli

import (
	"context"

	"github.com/agrotwin/agrotwin/pkg/adapter"
	"github.com/agrotwin/agrotwin/pkg/repository"
	"github.com/agrotwin/agrotwin/pkg/service/questionbank"
	"github.com/agrotwin/agrotwin/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	project  string
	database string

	// Storage
	bucket  string
	dataDir string

	// Adapters
	geminiProject  string
	geminiLocation string
	geminiModel    string

	// Question ranking
	learningRate   float64
	matchThreshold float64
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("AGROTWIN_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("AGROTWIN_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore session records",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for question catalogs and transcripts",
			Sources:     cli.EnvVars("AGROTWIN_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Local directory for question catalogs and transcripts when no bucket is set",
			Value:       ".agrotwin",
			Sources:     cli.EnvVars("AGROTWIN_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini (defaults to --project)",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       adapter.DefaultGeminiLocation,
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       adapter.DefaultGeminiModel,
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// bankFlags returns flags tuning the question ranking
func bankFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.FloatFlag{
			Name:        "learning-rate",
			Usage:       "Step size of the question weight update",
			Value:       questionbank.DefaultLearningRate,
			Sources:     cli.EnvVars("AGROTWIN_LEARNING_RATE"),
			Destination: &cfg.learningRate,
		},
		&cli.FloatFlag{
			Name:        "match-threshold",
			Usage:       "Minimum similarity for free text to count as a question selection",
			Value:       questionbank.DefaultMatchThreshold,
			Sources:     cli.EnvVars("AGROTWIN_MATCH_THRESHOLD"),
			Destination: &cfg.matchThreshold,
		},
	}
}

func (cfg *config) bankOptions() []questionbank.Option {
	return []questionbank.Option{
		questionbank.WithLearningRate(cfg.learningRate),
		questionbank.WithMatchThreshold(cfg.matchThreshold),
	}
}

// setupLogger installs the configured logger as default and on the context
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, nil, logging.WithFormat(logging.Format(cfg.logFormat)))
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository creates Firestore repository when a project is configured.
// Otherwise records are kept as objects in storage so that later commands
// can resume a session.
func (cfg *config) newRepository(ctx context.Context, storage adapter.Storage) (repository.Repository, error) {
	if cfg.project == "" {
		logging.From(ctx).Debug("no project configured, session records are kept in storage")
		repo, err := repository.NewObject(storage)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil
	}

	repo, err := repository.New(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newGemini creates a Gemini adapter. Without any project it returns nil and
// chat answers fall back to canned text.
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		logging.From(ctx).Warn("no Gemini project configured, answers will use fallback text")
		return nil, nil
	}

	gemini, err := adapter.NewGemini(ctx, project, cfg.geminiLocation, adapter.WithGenerativeModel(cfg.geminiModel))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newStorage creates a Cloud Storage adapter when a bucket is configured and a
// local directory one otherwise
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.bucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil
	}

	storage, err := adapter.NewFileStorage(cfg.dataDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create local storage")
	}
	return storage, nil
}
