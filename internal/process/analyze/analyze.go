// Package analyze condenses every extracted summary in a quote ledger into a
// small set of named thematic codes. It is the one stage that reads the whole
// ledger at once; its output document is what categorization numbers codes
// from.
package analyze

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

	"github.com/policypulse/policy-pulse/internal/core/domain"
	errs "github.com/policypulse/policy-pulse/internal/core/errors"
	"github.com/policypulse/policy-pulse/internal/ledger"
	"github.com/policypulse/policy-pulse/internal/llm"
	"github.com/policypulse/policy-pulse/internal/observability"
)

const analysisFileMode = 0o644

// Run derives thematic codes from the summaries in dir's quote ledger and
// writes them to the analysis document. If the document already exists the
// stage is complete and Run returns immediately; delete the file to force a
// re-analysis.
func Run(ctx context.Context, client llm.Client, dir, systemPrompt string, logger *zerolog.Logger) error {
	outPath := filepath.Join(dir, domain.AnalysisFile)

	if _, err := os.Stat(outPath); err == nil {
		logger.Info().Str("path", outPath).Msg("analysis already exists, skipping")
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat analysis file: %w", err)
	}

	summaries, err := collectSummaries(filepath.Join(dir, domain.QuotesFile), logger)
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		return fmt.Errorf("analyze %s: %w", dir, errs.ErrNoQuotes)
	}

	logger.Info().Int("summaries", len(summaries)).Msg("analyzing summaries")

	userPrompt := fmt.Sprintf("Here are %d summaries to analyze:\n\n%s",
		len(summaries), strings.Join(summaries, "\n"))

	result, err := client.Complete(ctx, llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: userPrompt},
	}})
	if err != nil {
		return fmt.Errorf("analysis call: %w", err)
	}

	if result.Filtered || llm.IsNull(result.Content) {
		return fmt.Errorf("analysis response: %w", errs.ErrEmptyResponse)
	}

	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(llm.StripFence(result.Content)), &analysis); err != nil {
		return fmt.Errorf("decode analysis response: %w", errs.ErrMalformedResponse)
	}

	if len(analysis.Codes) == 0 {
		return fmt.Errorf("analysis produced no codes: %w", errs.ErrMalformedResponse)
	}

	doc, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	if err := os.WriteFile(outPath, doc, analysisFileMode); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}

	observability.CodesDerived.Set(float64(len(analysis.Codes)))
	logger.Info().Int("codes", len(analysis.Codes)).Str("path", outPath).Msg("wrote analysis")

	return nil
}

// LoadCodes reads the analysis document in dir and assigns each code its
// 1-based position number. The numbers are the identifiers categorization
// prompts use, so load order is the on-disk order.
func LoadCodes(dir string) ([]domain.Code, error) {
	doc, err := os.ReadFile(filepath.Join(dir, domain.AnalysisFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load codes from %s: %w", dir, errs.ErrAnalysisMissing)
		}

		return nil, fmt.Errorf("read analysis: %w", err)
	}

	var analysis domain.Analysis
	if err := json.Unmarshal(doc, &analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	codes := analysis.Codes
	for i := range codes {
		codes[i].ID = i + 1
	}

	return codes, nil
}

func collectSummaries(path string, logger *zerolog.Logger) ([]string, error) {
	records, err := ledger.ReadAll[domain.ExtractionRecord](path, logger)
	if err != nil {
		return nil, err
	}

	var summaries []string

	for _, record := range records {
		for _, entry := range record.Entries {
			if entry.Summary != "" {
				summaries = append(summaries, entry.Summary)
			}
		}
	}

	return summaries, nil
}
