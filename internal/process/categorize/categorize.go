// Package categorize assigns every extracted quote to the thematic codes the
// analysis stage derived. Quotes are submitted in small numbered batches; a
// failed batch is logged and dropped so the rest of the run still lands in
// the categorized ledger.
package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/policypulse/policy-pulse/internal/config"
	"github.com/policypulse/policy-pulse/internal/core/domain"
	errs "github.com/policypulse/policy-pulse/internal/core/errors"
	"github.com/policypulse/policy-pulse/internal/ledger"
	"github.com/policypulse/policy-pulse/internal/llm"
	"github.com/policypulse/policy-pulse/internal/observability"
	"github.com/policypulse/policy-pulse/internal/process/analyze"
)

const (
	defaultBatchSize = 5

	// Kept low so assignments stay consistent across batches.
	categorizeTemperature = 0.3

	sourceIDUnknown = "unknown"

	batchStatusOK     = "ok"
	batchStatusFailed = "failed"
)

// quoteRef is one quote as presented to the model inside a batch.
type quoteRef struct {
	Quote    string `json:"quote"`
	SourceID string `json:"source_id"`
}

type categorizeOutput struct {
	CategorizedQuotes []domain.CategorizedQuote `json:"categorized_quotes"`
}

type Categorizer struct {
	cfg    *config.Config
	client llm.Client
	logger *zerolog.Logger
}

func New(cfg *config.Config, client llm.Client, logger *zerolog.Logger) *Categorizer {
	return &Categorizer{cfg: cfg, client: client, logger: logger}
}

// Run categorizes every quote in dir's ledger against the codes in dir's
// analysis document. If the categorized ledger already exists the stage is
// complete and Run returns immediately. Batch failures are row-local: the
// batch is dropped with a warning and the run continues.
func (c *Categorizer) Run(ctx context.Context, dir, systemPrompt string) error {
	outPath := filepath.Join(dir, domain.CategorizedFile)

	if _, err := os.Stat(outPath); err == nil {
		c.logger.Info().Str("path", outPath).Msg("categorized ledger already exists, skipping")
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat categorized ledger: %w", err)
	}

	codes, err := analyze.LoadCodes(dir)
	if err != nil {
		return err
	}

	quotes, err := collectQuotes(filepath.Join(dir, domain.QuotesFile), c.logger)
	if err != nil {
		return err
	}

	if len(quotes) == 0 {
		return fmt.Errorf("categorize %s: %w", dir, errs.ErrNoQuotes)
	}

	batchSize := c.cfg.CategorizeBatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	c.logger.Info().
		Int("quotes", len(quotes)).
		Int("codes", len(codes)).
		Int("batch_size", batchSize).
		Msg("starting categorization")

	codesText := codesPrompt(codes)

	for start := 0; start < len(quotes); start += batchSize {
		end := start + batchSize
		if end > len(quotes) {
			end = len(quotes)
		}

		categorized, err := c.categorizeBatch(ctx, systemPrompt, codesText, len(codes), quotes[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			observability.CategorizeBatches.WithLabelValues(batchStatusFailed).Inc()
			c.logger.Warn().Err(err).Int("batch_start", start).Msg("dropping failed categorization batch")

			continue
		}

		if err := ledger.AppendAll(outPath, categorized); err != nil {
			return err
		}

		observability.CategorizeBatches.WithLabelValues(batchStatusOK).Inc()
	}

	total, err := ledger.LineCount(outPath)
	if err != nil {
		return err
	}

	c.logger.Info().Int("categorized", total).Str("path", outPath).Msg("categorization complete")

	return nil
}

func (c *Categorizer) categorizeBatch(ctx context.Context, systemPrompt, codesText string, codeCount int, batch []quoteRef) ([]domain.CategorizedQuote, error) {
	payload, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal quote batch: %w", err)
	}

	userPrompt := fmt.Sprintf(
		"%s\n\nPlease categorize each of these quotes by assigning ALL relevant code numbers (1-%d):\n%s",
		codesText, codeCount, payload)

	result, err := c.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		Temperature: categorizeTemperature,
	})
	if err != nil {
		return nil, err
	}

	if result.Filtered || llm.IsNull(result.Content) {
		return nil, errs.ErrEmptyResponse
	}

	var parsed categorizeOutput
	if err := json.Unmarshal([]byte(llm.StripFence(result.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("decode categorization response: %w", errs.ErrMalformedResponse)
	}

	if len(parsed.CategorizedQuotes) == 0 {
		return nil, fmt.Errorf("categorization produced no quotes: %w", errs.ErrMalformedResponse)
	}

	return parsed.CategorizedQuotes, nil
}

// CleanQuote normalizes typographic double quotes to straight ones so the
// model sees the quote exactly as it will be matched later.
func CleanQuote(quote string) string {
	quote = strings.ReplaceAll(quote, "“", `"`)
	quote = strings.ReplaceAll(quote, "”", `"`)

	return quote
}

func codesPrompt(codes []domain.Code) string {
	var b strings.Builder

	b.WriteString("Available codes:\n")

	for _, code := range codes {
		fmt.Fprintf(&b, "%d. %s: %s\n", code.ID, code.Name, code.Description)
	}

	return b.String()
}

func collectQuotes(path string, logger *zerolog.Logger) ([]quoteRef, error) {
	records, err := ledger.ReadAll[domain.ExtractionRecord](path, logger)
	if err != nil {
		return nil, err
	}

	var quotes []quoteRef

	for _, record := range records {
		sourceID := record.SourceID
		if sourceID == "" {
			sourceID = sourceIDUnknown
		}

		for _, entry := range record.Entries {
			if entry.Quote == "" {
				continue
			}

			quotes = append(quotes, quoteRef{Quote: CleanQuote(entry.Quote), SourceID: sourceID})
		}
	}

	return quotes, nil
}
