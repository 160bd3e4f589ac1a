package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/policypulse/policy-pulse/internal/core/domain"
	errs "github.com/policypulse/policy-pulse/internal/core/errors"
	"github.com/policypulse/policy-pulse/internal/ledger"
	"github.com/policypulse/policy-pulse/internal/llm"
	"github.com/policypulse/policy-pulse/internal/pipeline"
	"github.com/policypulse/policy-pulse/internal/process/analyze"
	"github.com/policypulse/policy-pulse/internal/process/categorize"
)

const quotesPerCodeLimit = 5

type startRequest struct {
	Subreddit string `json:"subreddit"`
	Theme     string `json:"theme"`
}

func (s *Server) handleStartProcessing(baseCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		req.Subreddit = strings.TrimSpace(req.Subreddit)
		req.Theme = strings.TrimSpace(req.Theme)

		if req.Subreddit == "" || req.Theme == "" {
			writeError(w, http.StatusBadRequest, "subreddit and theme are required")
			return
		}

		jobID := uuid.NewString()

		if !s.state.begin(jobID, req.Subreddit, req.Theme) {
			writeError(w, http.StatusTooManyRequests, errs.ErrBusy.Error())
			return
		}

		go s.runJob(baseCtx, req.Subreddit, req.Theme)

		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id":  jobID,
			"message": "processing started",
		})
	}
}

// runJob drives the three stages and mirrors their progress into the job
// state. An extraction that finds nothing removes its empty output directory
// so a later run starts clean.
func (s *Server) runJob(ctx context.Context, subreddit, theme string) {
	params := pipeline.PromptParams(subreddit, theme)

	dir, err := s.runner.RunExtract(ctx, subreddit, theme, params)
	if err != nil {
		if errs.Is(err, errs.ErrNoQuotes) && dir != "" {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				s.logger.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove empty output dir")
			}
		}

		s.logger.Error().Err(err).Msg("extraction stage failed")
		s.state.finish("", err)

		return
	}

	s.state.setStage(StageAnalyzing)

	if err := s.runner.RunAnalyze(ctx, dir, params); err != nil {
		s.logger.Error().Err(err).Msg("analysis stage failed")
		s.state.finish(dir, err)

		return
	}

	s.state.setStage(StageCategorizing)

	if err := s.runner.RunCategorize(ctx, dir, params); err != nil {
		s.logger.Error().Err(err).Msg("categorization stage failed")
		s.state.finish(dir, err)

		return
	}

	s.state.finish(dir, nil)
	s.logger.Info().Str("dir", dir).Msg("processing run complete")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.snapshot())
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	dir := s.state.lastOutputDir()
	if dir == "" {
		writeError(w, http.StatusNotFound, "no completed run")
		return
	}

	codes, err := analyze.LoadCodes(dir)
	if err != nil {
		if errs.Is(err, errs.ErrAnalysisMissing) {
			writeError(w, http.StatusNotFound, "no analysis for the completed run")
			return
		}

		writeError(w, http.StatusInternalServerError, "failed to read analysis")

		return
	}

	quotes, err := ledger.ReadAll[domain.CategorizedQuote](filepath.Join(dir, domain.CategorizedFile), s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read categorized quotes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"codes": codes,
		"stats": categorize.Stats(quotes),
	})
}

func (s *Server) handleQuotesByCode(w http.ResponseWriter, r *http.Request) {
	dir := s.state.lastOutputDir()
	if dir == "" {
		writeError(w, http.StatusNotFound, "no completed run")
		return
	}

	code := chi.URLParam(r, "code")

	quotes, err := ledger.ReadAll[domain.CategorizedQuote](filepath.Join(dir, domain.CategorizedFile), s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read categorized quotes")
		return
	}

	matched := make([]domain.CategorizedQuote, 0, quotesPerCodeLimit)

	for _, quote := range quotes {
		for _, ref := range quote.Codes {
			if strings.EqualFold(ref.CodeName, code) {
				matched = append(matched, quote)
				break
			}
		}

		if len(matched) == quotesPerCodeLimit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":   code,
		"quotes": matched,
	})
}

func (s *Server) handleDownloadQuotes(w http.ResponseWriter, r *http.Request) {
	dir := s.state.lastOutputDir()
	if dir == "" {
		writeError(w, http.StatusNotFound, "no completed run")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", domain.CategorizedFile))
	http.ServeFile(w, r, filepath.Join(dir, domain.CategorizedFile))
}

type suggestedTheme struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleSuggestThemes(w http.ResponseWriter, r *http.Request) {
	subreddit := pipeline.CleanSubreddit(chi.URLParam(r, "subreddit"))
	if subreddit == "" {
		writeError(w, http.StatusBadRequest, "subreddit is required")
		return
	}

	userPrompt := fmt.Sprintf(
		"Suggest 9 research themes worth exploring in the r/%s community. "+
			"Respond with a JSON array of objects with \"title\" and \"description\" fields only.",
		subreddit)

	result, err := s.client.Complete(r.Context(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You help researchers pick discussion themes to study."},
		{Role: llm.RoleUser, Content: userPrompt},
	}})
	if err != nil {
		writeError(w, http.StatusBadGateway, "theme suggestion failed")
		return
	}

	themes, err := parseThemes(result.Content)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding unparseable theme suggestions")
		writeError(w, http.StatusBadGateway, "theme suggestion returned no usable themes")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subreddit": subreddit,
		"themes":    themes,
	})
}

// parseThemes pulls the JSON array out of a model answer that may surround it
// with prose or a code fence.
func parseThemes(content string) ([]suggestedTheme, error) {
	content = llm.StripFence(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")

	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response: %w", errs.ErrMalformedResponse)
	}

	var themes []suggestedTheme
	if err := json.Unmarshal([]byte(content[start:end+1]), &themes); err != nil {
		return nil, fmt.Errorf("decode themes: %w", errs.ErrMalformedResponse)
	}

	if len(themes) == 0 {
		return nil, fmt.Errorf("empty theme list: %w", errs.ErrMalformedResponse)
	}

	return themes, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
