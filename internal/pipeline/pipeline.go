// Package pipeline sequences the three processing stages for one
// (subreddit, theme) pair and owns the on-disk layout of their outputs.
//
// Each stage gates on the existence of its output file, so a crashed or
// interrupted run picks up wherever the ledgers left off.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/policypulse/policy-pulse/internal/config"
	"github.com/policypulse/policy-pulse/internal/core/domain"
	errs "github.com/policypulse/policy-pulse/internal/core/errors"
	"github.com/policypulse/policy-pulse/internal/ingest"
	"github.com/policypulse/policy-pulse/internal/ledger"
	"github.com/policypulse/policy-pulse/internal/llm"
	"github.com/policypulse/policy-pulse/internal/observability"
	"github.com/policypulse/policy-pulse/internal/process/analyze"
	"github.com/policypulse/policy-pulse/internal/process/categorize"
	"github.com/policypulse/policy-pulse/internal/process/extract"
	"github.com/policypulse/policy-pulse/internal/prompt"
)

const (
	stageExtract    = "extract"
	stageAnalyze    = "analyze"
	stageCategorize = "categorize"

	statusOK     = "ok"
	statusFailed = "failed"

	outputDirMode = 0o755
)

type Pipeline struct {
	cfg         *config.Config
	client      llm.Client
	logger      *zerolog.Logger
	processor   *extract.Processor
	categorizer *categorize.Categorizer
}

func New(cfg *config.Config, client llm.Client, logger *zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		client:      client,
		logger:      logger,
		processor:   extract.NewProcessor(cfg, client, logger),
		categorizer: categorize.New(cfg, client, logger),
	}
}

// CleanSubreddit normalizes user-supplied subreddit names for use in paths:
// "r/Teachers" and "Teachers" refer to the same directory.
func CleanSubreddit(subreddit string) string {
	cleaned := strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	return strings.ReplaceAll(cleaned, "/", "_")
}

// CleanTheme normalizes a theme label for use in paths.
func CleanTheme(theme string) string {
	return strings.ReplaceAll(strings.TrimSpace(theme), " ", "_")
}

// OutputDir is the directory holding all three stage outputs for one
// (subreddit, theme) pair.
func (p *Pipeline) OutputDir(subreddit, theme string) string {
	return filepath.Join(p.cfg.OutputDir, "r_"+CleanSubreddit(subreddit), CleanTheme(theme))
}

// PromptParams builds the substitution set shared by the stage prompt
// templates for one run.
func PromptParams(subreddit, theme string) map[string]string {
	return map[string]string{
		"subreddit":      CleanSubreddit(subreddit),
		"topic":          theme,
		"theme":          theme,
		"theme_focus":    theme,
		"concerns_scope": theme,
	}
}

// Run executes extraction, analysis, and categorization in order and returns
// the output directory. When extraction finds no quotes at all the partially
// created directory is removed so a later run starts clean.
func (p *Pipeline) Run(ctx context.Context, subreddit, theme string, params map[string]string) (string, error) {
	dir, err := p.RunExtract(ctx, subreddit, theme, params)
	if err != nil {
		if errs.Is(err, errs.ErrNoQuotes) && dir != "" {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				p.logger.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove empty output dir")
			}
		}

		return dir, err
	}

	if err := p.RunAnalyze(ctx, dir, params); err != nil {
		return dir, err
	}

	if err := p.RunCategorize(ctx, dir, params); err != nil {
		return dir, err
	}

	return dir, nil
}

// RunExtract loads the combined input for subreddit, renders the extraction
// prompt, and processes every row into the quote ledger under the run's
// output directory. Returns the output directory even on error so callers can
// clean up.
func (p *Pipeline) RunExtract(ctx context.Context, subreddit, theme string, params map[string]string) (string, error) {
	dir := p.OutputDir(subreddit, theme)

	if err := os.MkdirAll(dir, outputDirMode); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	rows, err := p.loadInput(subreddit)
	if err != nil {
		p.stageDone(stageExtract, err)
		return dir, err
	}

	systemPrompt, err := prompt.RenderFile(p.cfg.ExtractPromptPath(), params)
	if err != nil {
		p.stageDone(stageExtract, err)
		return dir, err
	}

	dest := extract.Destination{
		Path:      filepath.Join(dir, domain.QuotesFile),
		Subreddit: CleanSubreddit(subreddit),
		Theme:     theme,
	}

	if err := p.processor.ProcessBatch(ctx, rows, systemPrompt, dest); err != nil {
		p.stageDone(stageExtract, err)
		return dir, err
	}

	count, err := ledger.LineCount(dest.Path)
	if err != nil {
		p.stageDone(stageExtract, err)
		return dir, err
	}

	if count == 0 {
		err := fmt.Errorf("extract r/%s %q: %w", CleanSubreddit(subreddit), theme, errs.ErrNoQuotes)
		p.stageDone(stageExtract, err)

		return dir, err
	}

	p.stageDone(stageExtract, nil)
	p.logger.Info().Str("dir", dir).Int("records", count).Msg("extraction stage complete")

	return dir, nil
}

// RunAnalyze derives thematic codes for the quotes already extracted into dir.
func (p *Pipeline) RunAnalyze(ctx context.Context, dir string, params map[string]string) error {
	systemPrompt, err := prompt.RenderFile(p.cfg.AnalyzePromptPath(), params)
	if err != nil {
		p.stageDone(stageAnalyze, err)
		return err
	}

	err = analyze.Run(ctx, p.client, dir, systemPrompt, p.logger)
	p.stageDone(stageAnalyze, err)

	return err
}

// RunCategorize assigns the derived codes to every quote in dir.
func (p *Pipeline) RunCategorize(ctx context.Context, dir string, params map[string]string) error {
	systemPrompt, err := prompt.RenderFile(p.cfg.CategorizePromptPath(), params)
	if err != nil {
		p.stageDone(stageCategorize, err)
		return err
	}

	err = p.categorizer.Run(ctx, dir, systemPrompt)
	p.stageDone(stageCategorize, err)

	return err
}

// loadInput collects source rows for a subreddit: every <subreddit>_*.csv
// directly under the input directory, or failing that the per-subreddit
// combined_data.csv the ingestion join writes.
func (p *Pipeline) loadInput(subreddit string) ([]domain.SourceRecord, error) {
	cleaned := CleanSubreddit(subreddit)

	paths, err := filepath.Glob(filepath.Join(p.cfg.InputDir, cleaned+"_*.csv"))
	if err != nil {
		return nil, fmt.Errorf("glob input files: %w", err)
	}

	if len(paths) == 0 {
		combined := filepath.Join(p.cfg.InputDir, cleaned, ingest.CombinedFile)
		if _, statErr := os.Stat(combined); statErr == nil {
			paths = []string{combined}
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no input files for r/%s under %s: %w", cleaned, p.cfg.InputDir, errs.ErrNoInput)
	}

	var rows []domain.SourceRecord

	for _, path := range paths {
		records, err := ingest.ReadCSV(path)
		if err != nil {
			return nil, err
		}

		rows = append(rows, records...)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("input files for r/%s are empty: %w", cleaned, errs.ErrNoInput)
	}

	p.logger.Info().Str("subreddit", cleaned).Int("files", len(paths)).Int("rows", len(rows)).Msg("loaded input")

	return rows, nil
}

func (p *Pipeline) stageDone(stage string, err error) {
	status := statusOK
	if err != nil {
		status = statusFailed
	}

	observability.StageRuns.WithLabelValues(stage, status).Inc()
}
