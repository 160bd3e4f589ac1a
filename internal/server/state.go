package server

import "sync"

// Stage labels for job status reporting.
const (
	StageIdle         = "idle"
	StageExtracting   = "extracting"
	StageAnalyzing    = "analyzing"
	StageCategorizing = "categorizing"
	StageComplete     = "complete"
	StageFailed       = "failed"
)

// jobStatus is the externally visible snapshot of the current run.
type jobStatus struct {
	Processing bool   `json:"processing"`
	Stage      string `json:"stage"`
	JobID      string `json:"job_id,omitempty"`
	Subreddit  string `json:"subreddit,omitempty"`
	Theme      string `json:"theme,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`
	Error      string `json:"error,omitempty"`
}

// jobState serializes the single-run-at-a-time invariant. Only one processing
// job may be in flight; a second start attempt is rejected, not queued.
type jobState struct {
	mu     sync.Mutex
	status jobStatus
}

func newJobState() *jobState {
	return &jobState{status: jobStatus{Stage: StageIdle}}
}

// begin claims the run slot. Returns false when a job is already in flight.
func (s *jobState) begin(jobID, subreddit, theme string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Processing {
		return false
	}

	s.status = jobStatus{
		Processing: true,
		Stage:      StageExtracting,
		JobID:      jobID,
		Subreddit:  subreddit,
		Theme:      theme,
	}

	return true
}

func (s *jobState) setStage(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Stage = stage
}

func (s *jobState) finish(outputDir string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Processing = false
	s.status.OutputDir = outputDir

	if err != nil {
		s.status.Stage = StageFailed
		s.status.Error = err.Error()

		return
	}

	s.status.Stage = StageComplete
	s.status.Error = ""
}

func (s *jobState) snapshot() jobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// lastOutputDir returns the output directory of the most recent completed
// run, or "" when no run has completed yet.
func (s *jobState) lastOutputDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Processing || s.status.Stage != StageComplete {
		return ""
	}

	return s.status.OutputDir
}
