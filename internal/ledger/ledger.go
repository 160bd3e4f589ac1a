// Package ledger reads and appends the newline-delimited JSON files that are
// the pipeline's only persistent store. Each ledger is append-only; readers
// tolerate malformed lines, and writers serialize sibling workers through a
// per-destination lock file.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

const (
	// Ledger lines hold full comment threads, so the default scanner limit is
	// far too small.
	scanBufferSize = 64 * 1024
	maxLineSize    = 4 * 1024 * 1024
	ledgerFileMode = 0o644
	logKeyPath     = "path"
	logKeyLine     = "line"
	lockFileSuffix = ".lock"
	newlineByte    = '\n'
)

// ProcessedIDs reads every line of the ledger at path and collects the
// source_id field into a set. A missing file yields an empty set. Malformed
// lines are skipped with a warning, never fatal.
func ProcessedIDs(path string, logger *zerolog.Logger) (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	err := scanLines(path, logger, func(line []byte) error {
		var record struct {
			SourceID string `json:"source_id"`
		}
		if err := json.Unmarshal(line, &record); err != nil {
			return err
		}

		if record.SourceID != "" {
			ids[record.SourceID] = struct{}{}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// ReadAll decodes every well-formed line of the ledger at path into T.
// Malformed lines are skipped with a warning. A missing file yields an empty
// slice.
func ReadAll[T any](path string, logger *zerolog.Logger) ([]T, error) {
	var records []T

	err := scanLines(path, logger, func(line []byte) error {
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			return err
		}

		records = append(records, record)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// LineCount returns the number of non-empty lines in the ledger at path.
// A missing file counts as zero lines.
func LineCount(path string) (int, error) {
	count := 0

	nop := zerolog.Nop()

	err := scanLines(path, &nop, func([]byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func scanLines(path string, logger *zerolog.Logger, handle func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, scanBufferSize), maxLineSize)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := handle(line); err != nil {
			logger.Warn().Err(err).Str(logKeyPath, path).Int(logKeyLine, lineNo).Msg("skipping malformed ledger line")
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}

	return nil
}

// Append marshals record and appends it as one line to the ledger at path
// under an exclusive lock on the sibling lock file. The write is flushed to
// durable storage before the lock is released.
func Append(path string, record any) error {
	return AppendAll(path, []any{record})
}

// AppendAll appends each record as its own line under a single lock
// acquisition, so a multi-record batch is written contiguously.
func AppendAll[T any](path string, records []T) error {
	if len(records) == 0 {
		return nil
	}

	lines := make([][]byte, 0, len(records))

	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal ledger record: %w", err)
		}

		lines = append(lines, line)
	}

	lock := flock.New(path + lockFileSuffix)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer lock.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, ledgerFileMode)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}

	for _, line := range lines {
		if _, err := file.Write(append(line, newlineByte)); err != nil {
			file.Close()
			return fmt.Errorf("append ledger line: %w", err)
		}
	}

	// Force the append to disk before releasing the lock so a crash after
	// this call never loses an acknowledged record.
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}

	return file.Close()
}
