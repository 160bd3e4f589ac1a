// Package ingest joins raw Reddit submission and comment dumps into the flat
// CSV the extraction stage consumes. One output row per submission plus one
// per orphaned comment thread; rows with no substantive text are dropped at
// the door so the pipeline never pays a model call for them.
package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/policypulse/policy-pulse/internal/core/domain"
	"github.com/policypulse/policy-pulse/internal/ledger"
	"github.com/policypulse/policy-pulse/internal/process/filters"
)

// CombinedFile is the name of the joined CSV inside an input directory.
const CombinedFile = "combined_data.csv"

// Reddit prefixes comment link ids with the submission "kind".
const submissionKindPrefix = "t3_"

var csvHeader = []string{"id", "title", "selftext", "body"}

type submission struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Selftext string `json:"selftext"`
}

type comment struct {
	LinkID string `json:"link_id"`
	Body   string `json:"body"`
}

// Combine joins the submissions and comments JSONL dumps and writes the
// result as outputDir/combined_data.csv. Comments attach to their submission
// by link id; comment threads whose submission is absent from the dump still
// become rows of their own. Returns the path of the written CSV.
func Combine(submissionsPath, commentsPath, outputDir string, logger *zerolog.Logger) (string, error) {
	submissions, err := ledger.ReadAll[submission](submissionsPath, logger)
	if err != nil {
		return "", err
	}

	comments, err := ledger.ReadAll[comment](commentsPath, logger)
	if err != nil {
		return "", err
	}

	bodies := make(map[string][]string)

	for _, c := range comments {
		if !filters.IsSubstantive(c.Body) {
			continue
		}

		id := strings.TrimPrefix(c.LinkID, submissionKindPrefix)
		if id == "" {
			continue
		}

		bodies[id] = append(bodies[id], c.Body)
	}

	var rows []domain.SourceRecord

	for _, s := range submissions {
		selftext := s.Selftext
		if !filters.IsSubstantive(selftext) {
			selftext = ""
		}

		rows = append(rows, domain.SourceRecord{
			ID:       s.ID,
			Title:    s.Title,
			Selftext: selftext,
			Body:     strings.Join(bodies[s.ID], " "),
		})

		delete(bodies, s.ID)
	}

	// Whatever is left in bodies has no submission in the dump. Keep the
	// threads anyway, in a stable order.
	orphans := make([]string, 0, len(bodies))
	for id := range bodies {
		orphans = append(orphans, id)
	}

	sort.Strings(orphans)

	for _, id := range orphans {
		rows = append(rows, domain.SourceRecord{
			ID:   id,
			Body: strings.Join(bodies[id], " "),
		})
	}

	kept := make([]domain.SourceRecord, 0, len(rows))

	for _, row := range rows {
		if filters.IsSubstantive(row.Selftext) || filters.IsSubstantive(row.Body) {
			kept = append(kept, row)
		}
	}

	outPath := filepath.Join(outputDir, CombinedFile)
	if err := writeCSV(outPath, kept); err != nil {
		return "", err
	}

	logger.Info().
		Int("submissions", len(submissions)).
		Int("comments", len(comments)).
		Int("rows", len(kept)).
		Str("path", outPath).
		Msg("wrote combined input")

	return outPath, nil
}

// ReadCSV loads a combined CSV into source records. Columns are matched by
// header name so column order does not matter.
func ReadCSV(path string) ([]domain.SourceRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open combined csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	lines, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read combined csv: %w", err)
	}

	if len(lines) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(lines[0]))
	for i, name := range lines[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(line []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(line) {
			return ""
		}

		return line[i]
	}

	records := make([]domain.SourceRecord, 0, len(lines)-1)

	for _, line := range lines[1:] {
		records = append(records, domain.SourceRecord{
			ID:       field(line, "id"),
			Title:    field(line, "title"),
			Selftext: field(line, "selftext"),
			Body:     field(line, "body"),
		})
	}

	return records, nil
}

func writeCSV(path string, rows []domain.SourceRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create combined csv: %w", err)
	}

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		file.Close()
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range rows {
		if err := writer.Write([]string{row.ID, row.Title, row.Selftext, row.Body}); err != nil {
			file.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("flush combined csv: %w", err)
	}

	return file.Close()
}
