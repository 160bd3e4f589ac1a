// Package domain defines the records that flow through the quote pipeline.
// All persistent state lives in per-(subreddit, theme) ledger files; these
// types are the line format of those files.
package domain

// Per-(subreddit, theme) file names inside an output directory. The presence
// of each file is what makes its stage resumable: a stage whose output exists
// is skipped on re-run.
const (
	QuotesFile      = "combined_quotes.jsonl"
	AnalysisFile    = "summary_analysis.json"
	CategorizedFile = "categorized_quotes.jsonl"
)

// SourceRecord is one submission or orphaned comment thread produced by the
// ingestion join. Body is the space-joined concatenation of all comment bodies
// linked to the submission.
type SourceRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Selftext string `json:"selftext"`
	Body     string `json:"body"`
}

// QuoteSummary is one extracted passage and its one-line paraphrase.
type QuoteSummary struct {
	Quote   string `json:"quote"`
	Summary string `json:"summary"`
}

// ExtractionRecord is one line of the combined_quotes.jsonl ledger. One record
// per source row that yielded at least one entry.
type ExtractionRecord struct {
	Entries            []QuoteSummary `json:"entries"`
	SourceID           string         `json:"source_id"`
	Subreddit          string         `json:"subreddit"`
	Theme              string         `json:"theme"`
	ProcessedTimestamp string         `json:"processed_timestamp"`
}

// Code is one thematic label derived from the aggregated summaries. ID is
// 1-based and assigned by position when the analysis file is loaded; the model
// refers to codes by these numbers during categorization.
type Code struct {
	ID          int    `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Percentage  string `json:"percentage,omitempty"`
}

// Analysis is the summary_analysis.json document.
type Analysis struct {
	Codes []Code `json:"codes"`
}

// CodeRef references a code by name inside a categorized quote.
type CodeRef struct {
	CodeName string `json:"code_name"`
}

// CategorizedQuote is one line of the categorized_quotes.jsonl ledger.
type CategorizedQuote struct {
	Quote    string    `json:"quote"`
	SourceID string    `json:"source_id"`
	Codes    []CodeRef `json:"codes"`
}
