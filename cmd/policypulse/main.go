package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/policypulse/policy-pulse/internal/config"
	errs "github.com/policypulse/policy-pulse/internal/core/errors"
	"github.com/policypulse/policy-pulse/internal/ingest"
	"github.com/policypulse/policy-pulse/internal/llm"
	"github.com/policypulse/policy-pulse/internal/pipeline"
	"github.com/policypulse/policy-pulse/internal/server"
)

func main() {
	mode := flag.String("mode", "", "Service mode (serve, run, combine)")
	subreddit := flag.String("subreddit", "", "Subreddit to process (run mode)")
	theme := flag.String("theme", "", "Theme to extract quotes for (run mode)")
	submissions := flag.String("submissions", "", "Submissions JSONL file (combine mode)")
	comments := flag.String("comments", "", "Comments JSONL file (combine mode)")
	out := flag.String("out", "", "Output directory for the combined CSV (combine mode)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := llm.New(cfg, &logger)
	pipe := pipeline.New(cfg, client, &logger)

	if err := runMode(ctx, &logger, cfg, client, pipe, modeArgs{
		mode:        *mode,
		subreddit:   *subreddit,
		theme:       *theme,
		submissions: *submissions,
		comments:    *comments,
		out:         *out,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

type modeArgs struct {
	mode        string
	subreddit   string
	theme       string
	submissions string
	comments    string
	out         string
}

func runMode(ctx context.Context, logger *zerolog.Logger, cfg *config.Config, client llm.Client, pipe *pipeline.Pipeline, args modeArgs) error {
	switch args.mode {
	case "serve":
		return server.New(cfg, pipe, client, logger).Start(ctx)
	case "run":
		if args.subreddit == "" || args.theme == "" {
			log.Fatalf("Usage: %s --mode=run --subreddit=<name> --theme=<label>", os.Args[0])
		}

		dir, err := pipe.Run(ctx, args.subreddit, args.theme, pipeline.PromptParams(args.subreddit, args.theme))
		if err != nil {
			if errs.Is(err, errs.ErrNoQuotes) {
				logger.Warn().Str("subreddit", args.subreddit).Str("theme", args.theme).Msg("no quotes found")
				return nil
			}

			return err
		}

		logger.Info().Str("dir", dir).Msg("processing complete")

		return nil
	case "combine":
		if args.submissions == "" || args.comments == "" {
			log.Fatalf("Usage: %s --mode=combine --submissions=<file> --comments=<file> [--out=<dir>]", os.Args[0])
		}

		outDir := args.out
		if outDir == "" {
			outDir = cfg.InputDir
		}

		path, err := ingest.Combine(args.submissions, args.comments, outDir, logger)
		if err != nil {
			return err
		}

		logger.Info().Str("path", path).Msg("combine complete")

		return nil
	default:
		log.Fatalf("Usage: %s --mode=[serve|run|combine]", os.Args[0])

		return nil
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
