package domain

import "time"

// IngestReport summarizes one chunk-and-embed run over a catalog work.
type IngestReport struct {
	RunID             string        `json:"run_id"`
	WorkID            string        `json:"work_id"`
	References        int           `json:"references"`
	SkippedReferences []string      `json:"skipped_references,omitempty"`
	Chunks            int           `json:"chunks"`
	Batches           int           `json:"batches"`
	Duration          time.Duration `json:"duration"`
}
