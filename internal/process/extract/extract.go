// Package extract fans source rows out across a bounded worker pool, asks the
// model for quotable passages in each row, and appends accepted results to
// the destination quote ledger.
//
// All failure handling is row-local: a bad row is logged and abandoned, never
// allowed to abort the batch. Resumption is handled by the dedup ledger; rows
// whose source_id is already present in the destination are never
// resubmitted.
package extract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/policypulse/policy-pulse/internal/config"
	"github.com/policypulse/policy-pulse/internal/core/domain"
	"github.com/policypulse/policy-pulse/internal/ledger"
	"github.com/policypulse/policy-pulse/internal/llm"
	"github.com/policypulse/policy-pulse/internal/observability"
)

const (
	defaultPoolSize = 2

	logKeySourceID = "source_id"
	logKeyDest     = "dest"
)

// Destination identifies the quote ledger a batch appends to.
type Destination struct {
	Path      string
	Subreddit string
	Theme     string
}

// promptRow is the user-message payload for one source row. Field names are
// part of the prompt contract with the model.
type promptRow struct {
	Title    string `json:"Submission Title"`
	Selftext string `json:"Submission Body"`
	Comments string `json:"Comments"`
	ID       string `json:"ID"`
}

type extractionOutput struct {
	Entries []domain.QuoteSummary `json:"entries"`
}

type Processor struct {
	cfg    *config.Config
	client llm.Client
	logger *zerolog.Logger
}

func NewProcessor(cfg *config.Config, client llm.Client, logger *zerolog.Logger) *Processor {
	return &Processor{cfg: cfg, client: client, logger: logger}
}

// ProcessBatch partitions rows across the worker pool and processes each one
// independently. Rows already present in the destination ledger are skipped
// up front; workers re-check before appending since the snapshot may be
// stale by the time a row is dispatched.
func (p *Processor) ProcessBatch(ctx context.Context, rows []domain.SourceRecord, systemPrompt string, dest Destination) error {
	processed, err := ledger.ProcessedIDs(dest.Path, p.logger)
	if err != nil {
		return err
	}

	pending := make([]domain.SourceRecord, 0, len(rows))

	for _, row := range rows {
		if _, done := processed[row.ID]; done {
			observability.RowsProcessed.WithLabelValues(observability.OutcomeSkipped).Inc()
			continue
		}

		pending = append(pending, row)
	}

	p.logger.Info().
		Str(logKeyDest, dest.Path).
		Int("total", len(rows)).
		Int("already_processed", len(rows)-len(pending)).
		Int("pending", len(pending)).
		Msg("starting extraction batch")

	if len(pending) == 0 {
		return nil
	}

	poolSize := p.cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)

	for _, row := range pending {
		row := row
		g.Go(func() error {
			p.processRow(gCtx, row, systemPrompt, dest)
			return nil
		})
	}

	return g.Wait()
}

func (p *Processor) processRow(ctx context.Context, row domain.SourceRecord, systemPrompt string, dest Destination) {
	logger := p.logger.With().Str(logKeySourceID, row.ID).Logger()

	// Re-check against the live ledger: the dispatch snapshot may predate a
	// sibling worker's append.
	processed, err := ledger.ProcessedIDs(dest.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to re-read dedup ledger")
		observability.RowsProcessed.WithLabelValues(observability.OutcomeFailed).Inc()

		return
	}

	if _, done := processed[row.ID]; done {
		observability.RowsProcessed.WithLabelValues(observability.OutcomeSkipped).Inc()
		return
	}

	userPrompt, err := json.Marshal(promptRow{
		Title:    row.Title,
		Selftext: row.Selftext,
		Comments: row.Body,
		ID:       row.ID,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize row for prompt")
		observability.RowsProcessed.WithLabelValues(observability.OutcomeFailed).Inc()

		return
	}

	result, err := p.client.Complete(ctx, llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: string(userPrompt)},
	}})
	if err != nil {
		logger.Error().Err(err).Msg("extraction call failed, abandoning row")
		observability.RowsProcessed.WithLabelValues(observability.OutcomeFailed).Inc()

		return
	}

	if result.Filtered {
		observability.RowsProcessed.WithLabelValues(observability.OutcomeFiltered).Inc()
		return
	}

	if llm.IsNull(result.Content) {
		observability.RowsProcessed.WithLabelValues(observability.OutcomeEmpty).Inc()
		return
	}

	var parsed extractionOutput
	if err := json.Unmarshal([]byte(llm.StripFence(result.Content)), &parsed); err != nil {
		// A structurally malformed answer is unlikely to improve on re-ask,
		// so the row is dropped rather than retried.
		logger.Warn().Err(err).Msg("model response did not decode, skipping row")
		observability.RowsProcessed.WithLabelValues(observability.OutcomeMalformed).Inc()

		return
	}

	if len(parsed.Entries) == 0 {
		observability.RowsProcessed.WithLabelValues(observability.OutcomeEmpty).Inc()
		return
	}

	record := domain.ExtractionRecord{
		Entries:            parsed.Entries,
		SourceID:           row.ID,
		Subreddit:          dest.Subreddit,
		Theme:              dest.Theme,
		ProcessedTimestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := ledger.Append(dest.Path, record); err != nil {
		logger.Error().Err(err).Msg("failed to append extraction record")
		observability.RowsProcessed.WithLabelValues(observability.OutcomeFailed).Inc()

		return
	}

	observability.RowsProcessed.WithLabelValues(observability.OutcomeAppended).Inc()
	logger.Info().Int("entries", len(record.Entries)).Str(logKeyDest, dest.Path).Msg("appended extraction record")
}
