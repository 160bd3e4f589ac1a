package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policypulse/policy-pulse/internal/config"
	"github.com/policypulse/policy-pulse/internal/core/domain"
	errs "github.com/policypulse/policy-pulse/internal/core/errors"
	"github.com/policypulse/policy-pulse/internal/llm"
)

type stubClient struct {
	mu      sync.Mutex
	systems []string
	respond func(system, user string) (llm.Result, error)
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (llm.Result, error) {
	system := req.Messages[0].Content
	user := req.Messages[len(req.Messages)-1].Content

	s.mu.Lock()
	s.systems = append(s.systems, system)
	s.mu.Unlock()

	return s.respond(system, user)
}

// stageAware answers each stage with a minimal well-formed payload.
func stageAware(_, user string) (llm.Result, error) {
	switch {
	case strings.Contains(user, "summaries to analyze"):
		return llm.Result{Content: `{"codes":[{"name":"Workload","description":"Too much work."}]}`}, nil
	case strings.Contains(user, "categorize each of these quotes"):
		return llm.Result{Content: `{"categorized_quotes":[{"quote":"q","source_id":"s","codes":[{"code_name":"Workload"}]}]}`}, nil
	default:
		return llm.Result{Content: `{"entries":[{"quote":"a real quote","summary":"a summary"}]}`}, nil
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	promptsDir := t.TempDir()
	templates := map[string]string{
		"a_extract_quotes_prompt.txt":    "Extract quotes about ${theme} from r/${subreddit}.",
		"b_analyze_summaries_prompt.txt": "Cluster summaries about ${theme}.",
		"c_categorize_quotes_prompt.txt": "Categorize quotes about ${theme}.",
	}

	for name, body := range templates {
		require.NoError(t, os.WriteFile(filepath.Join(promptsDir, name), []byte(body), 0o644))
	}

	return &config.Config{
		PoolSize:            1,
		CategorizeBatchSize: 5,
		InputDir:            t.TempDir(),
		OutputDir:           t.TempDir(),
		PromptsDir:          promptsDir,
	}
}

func newPipeline(cfg *config.Config, client llm.Client) *Pipeline {
	logger := zerolog.Nop()
	return New(cfg, client, &logger)
}

func seedInputCSV(t *testing.T, cfg *config.Config, name string) {
	t.Helper()

	content := "id,title,selftext,body\nt3_a,Title A,Selftext for the first row here,Comment body one\nt3_b,Title B,Selftext for the second row here,Comment body two\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InputDir, name), []byte(content), 0o644))
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	seedInputCSV(t, cfg, "teachers_2024.csv")

	client := &stubClient{respond: stageAware}

	dir, err := newPipeline(cfg, client).Run(context.Background(), "r/Teachers", "AI in class", PromptParams("r/Teachers", "AI in class"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.OutputDir, "r_Teachers", "AI_in_class"), dir)

	for _, name := range []string{domain.QuotesFile, domain.AnalysisFile, domain.CategorizedFile} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, "stage output %s must exist after a full run", name)
	}

	assert.Contains(t, client.systems, "Extract quotes about AI in class from r/Teachers.",
		"prompt placeholders must be rendered before the stage runs")
}

func TestRunRemovesDirWhenNoQuotes(t *testing.T) {
	cfg := testConfig(t)
	seedInputCSV(t, cfg, "teachers_2024.csv")

	client := &stubClient{respond: func(_, _ string) (llm.Result, error) {
		return llm.Result{Content: "null"}, nil
	}}

	dir, err := newPipeline(cfg, client).Run(context.Background(), "teachers", "burnout", nil)
	require.ErrorIs(t, err, errs.ErrNoQuotes)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "an all-empty run must not leave a directory behind")
}

func TestRunExtractNoInput(t *testing.T) {
	cfg := testConfig(t)

	_, err := newPipeline(cfg, &stubClient{respond: stageAware}).RunExtract(context.Background(), "teachers", "burnout", nil)
	require.ErrorIs(t, err, errs.ErrNoInput)
}

func TestLoadInputFallsBackToCombined(t *testing.T) {
	cfg := testConfig(t)

	subDir := filepath.Join(cfg.InputDir, "teachers")
	require.NoError(t, os.MkdirAll(subDir, 0o755))

	content := "id,title,selftext,body\nt3_x,Title,Selftext text here for the row,Body text\n"
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "combined_data.csv"), []byte(content), 0o644))

	client := &stubClient{respond: stageAware}

	dir, err := newPipeline(cfg, client).RunExtract(context.Background(), "r/teachers", "burnout", nil)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, domain.QuotesFile))
	assert.NoError(t, statErr)
}

func TestCleanSubreddit(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "r/Teachers", want: "Teachers"},
		{in: "Teachers", want: "Teachers"},
		{in: " r/nursing ", want: "nursing"},
		{in: "weird/name", want: "weird_name"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanSubreddit(tt.in), "input %q", tt.in)
	}
}

func TestCleanTheme(t *testing.T) {
	assert.Equal(t, "AI_in_the_classroom", CleanTheme("AI in the classroom"))
	assert.Equal(t, "burnout", CleanTheme(" burnout "))
}

func TestPromptParams(t *testing.T) {
	params := PromptParams("r/Teachers", "burnout")

	assert.Equal(t, "Teachers", params["subreddit"])
	assert.Equal(t, "burnout", params["theme"])
	assert.Equal(t, "burnout", params["theme_focus"])
	assert.Equal(t, "burnout", params["concerns_scope"])
	assert.Equal(t, "burnout", params["topic"])
}
