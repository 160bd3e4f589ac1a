package extract

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policypulse/policy-pulse/internal/config"
	"github.com/policypulse/policy-pulse/internal/core/domain"
	"github.com/policypulse/policy-pulse/internal/ledger"
	"github.com/policypulse/policy-pulse/internal/llm"
)

type stubClient struct {
	mu      sync.Mutex
	calls   int
	respond func(req llm.Request) (llm.Result, error)
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (llm.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	return s.respond(req)
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func newProcessor(client llm.Client) *Processor {
	logger := zerolog.Nop()
	return NewProcessor(&config.Config{PoolSize: 2}, client, &logger)
}

func testDest(t *testing.T) Destination {
	t.Helper()

	return Destination{
		Path:      filepath.Join(t.TempDir(), domain.QuotesFile),
		Subreddit: "teachers",
		Theme:     "AI in the classroom",
	}
}

func readLedger(t *testing.T, path string) []domain.ExtractionRecord {
	t.Helper()

	logger := zerolog.Nop()
	records, err := ledger.ReadAll[domain.ExtractionRecord](path, &logger)
	require.NoError(t, err)

	return records
}

func TestProcessBatchSingleRow(t *testing.T) {
	client := &stubClient{respond: func(llm.Request) (llm.Result, error) {
		return llm.Result{Content: `{"entries":[{"quote":"six whole words right over here","summary":"short"}]}`}, nil
	}}
	dest := testDest(t)

	rows := []domain.SourceRecord{{ID: "t3_abc", Selftext: "selftext with six whole words here"}}
	require.NoError(t, newProcessor(client).ProcessBatch(context.Background(), rows, "system", dest))

	records := readLedger(t, dest.Path)
	require.Len(t, records, 1)
	assert.Equal(t, "t3_abc", records[0].SourceID)
	assert.Len(t, records[0].Entries, 1)
	assert.Equal(t, "teachers", records[0].Subreddit)
	assert.NotEmpty(t, records[0].ProcessedTimestamp)
}

func TestProcessBatchIdempotent(t *testing.T) {
	client := &stubClient{respond: func(llm.Request) (llm.Result, error) {
		return llm.Result{Content: `{"entries":[{"quote":"a","summary":"b"}]}`}, nil
	}}
	dest := testDest(t)
	processor := newProcessor(client)

	rows := []domain.SourceRecord{{ID: "A"}, {ID: "B"}}
	require.NoError(t, processor.ProcessBatch(context.Background(), rows, "system", dest))
	require.NoError(t, processor.ProcessBatch(context.Background(), rows, "system", dest))

	assert.Len(t, readLedger(t, dest.Path), 2, "second run must add zero new lines")
	assert.Equal(t, 2, client.callCount(), "already-ledgered rows must not be resubmitted")
}

func TestProcessBatchSkipsLedgeredRow(t *testing.T) {
	client := &stubClient{respond: func(llm.Request) (llm.Result, error) {
		return llm.Result{Content: `{"entries":[{"quote":"a","summary":"b"}]}`}, nil
	}}
	dest := testDest(t)

	require.NoError(t, ledger.Append(dest.Path, domain.ExtractionRecord{
		Entries:  []domain.QuoteSummary{{Quote: "old", Summary: "old"}},
		SourceID: "A",
	}))

	rows := []domain.SourceRecord{{ID: "A"}, {ID: "B"}}
	require.NoError(t, newProcessor(client).ProcessBatch(context.Background(), rows, "system", dest))

	records := readLedger(t, dest.Path)
	assert.Len(t, records, 2, "re-submitting id A must not append a second record for it")
	assert.Equal(t, 1, client.callCount())
}

func TestProcessBatchFencedResponse(t *testing.T) {
	client := &stubClient{respond: func(llm.Request) (llm.Result, error) {
		return llm.Result{Content: "```json\n{\"entries\":[{\"quote\":\"q\",\"summary\":\"s\"}]}\n```"}, nil
	}}
	dest := testDest(t)

	require.NoError(t, newProcessor(client).ProcessBatch(context.Background(), []domain.SourceRecord{{ID: "x"}}, "system", dest))
	assert.Len(t, readLedger(t, dest.Path), 1)
}

func TestProcessBatchRowLocalFailures(t *testing.T) {
	tests := []struct {
		name    string
		respond func(llm.Request) (llm.Result, error)
	}{
		{
			name: "filtered outcome",
			respond: func(llm.Request) (llm.Result, error) {
				return llm.Result{Filtered: true}, nil
			},
		},
		{
			name: "null content",
			respond: func(llm.Request) (llm.Result, error) {
				return llm.Result{Content: "null"}, nil
			},
		},
		{
			name: "fenced null",
			respond: func(llm.Request) (llm.Result, error) {
				return llm.Result{Content: "```json\nnull\n```"}, nil
			},
		},
		{
			name: "malformed json",
			respond: func(llm.Request) (llm.Result, error) {
				return llm.Result{Content: "{not json"}, nil
			},
		},
		{
			name: "no entries",
			respond: func(llm.Request) (llm.Result, error) {
				return llm.Result{Content: `{"entries":[]}`}, nil
			},
		},
		{
			name: "call failure",
			respond: func(llm.Request) (llm.Result, error) {
				return llm.Result{}, errors.New("exhausted retries")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{respond: tt.respond}
			dest := testDest(t)

			err := newProcessor(client).ProcessBatch(context.Background(), []domain.SourceRecord{{ID: "bad"}}, "system", dest)
			require.NoError(t, err, "one bad row must never abort the batch")
			assert.Empty(t, readLedger(t, dest.Path))
		})
	}
}

func TestProcessBatchBadRowDoesNotBlockOthers(t *testing.T) {
	client := &stubClient{respond: func(req llm.Request) (llm.Result, error) {
		user := req.Messages[len(req.Messages)-1].Content
		if strings.Contains(user, `"ID":"bad"`) {
			return llm.Result{}, errors.New("exhausted retries")
		}

		return llm.Result{Content: `{"entries":[{"quote":"q","summary":"s"}]}`}, nil
	}}
	dest := testDest(t)

	rows := []domain.SourceRecord{{ID: "bad"}, {ID: "good-1"}, {ID: "good-2"}, {ID: "good-3"}}
	require.NoError(t, newProcessor(client).ProcessBatch(context.Background(), rows, "system", dest))

	records := readLedger(t, dest.Path)
	assert.Len(t, records, 3)

	for _, record := range records {
		assert.NotEqual(t, "bad", record.SourceID)
	}
}
