package consolidate

import "time"

// Batch statuses as they appear in a run report. A batch starts planned,
// moves to reported when the run is a dry run, and otherwise ends committed
// or failed. The run itself always completes; there is no global rollback.
const (
	StatusPlanned   = "planned"
	StatusReported  = "reported"
	StatusRunning   = "running"
	StatusCommitted = "committed"
	StatusFailed    = "failed"
)

// BatchReport is the per-batch outcome accumulated into a run report.
type BatchReport struct {
	Index           int      `json:"index"`
	Strategy        string   `json:"strategy"`
	Status          string   `json:"status"`
	MemoryIDs       []string `json:"memory_ids"`
	EstimatedTokens int      `json:"estimated_tokens"`
	UpdatedMemories []string `json:"updated_memories,omitempty"`
	DeletedMemories []string `json:"deleted_memories,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// Report is the overall outcome of one consolidation run. One batch's
// failure never aborts its siblings; the report enumerates every outcome.
type Report struct {
	RunID           string        `json:"run_id"`
	DryRun          bool          `json:"dry_run"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	Batches         []BatchReport `json:"batches"`
	EstimatedTokens int           `json:"estimated_tokens"`
	TotalUpdated    int           `json:"total_updated"`
	TotalDeleted    int           `json:"total_deleted"`
}

// FailedBatches counts batches that ended in StatusFailed.
func (r *Report) FailedBatches() int {
	failed := 0
	for _, b := range r.Batches {
		if b.Status == StatusFailed {
			failed++
		}
	}
	return failed
}
