package weather

import "time"

// RowFailure describes one staged row the loader could not write.
type RowFailure struct {
	Line       int    `json:"line,omitempty"`
	LocationID int    `json:"locationId,omitempty"`
	Date       string `json:"date,omitempty"`
	Error      string `json:"error"`
}

// LoadResult reports what the loader did with a dataset.
type LoadResult struct {
	StagingPath      string       `json:"stagingPath"`
	Staged           int          `json:"staged"`
	BulkLoaded       int64        `json:"bulkLoaded"`
	BulkError        string       `json:"bulkError,omitempty"`
	UsedFallback     bool         `json:"usedFallback"`
	FallbackInserted int          `json:"fallbackInserted"`
	Failures         []RowFailure `json:"failures,omitempty"`
	Final            int64        `json:"final"`
	// Unresolved is set when the destination count still differs from the
	// staged count after the fallback path.
	Unresolved bool `json:"unresolved"`
}

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunNoData     RunStatus = "no_data"
	RunUnresolved RunStatus = "unresolved"
	RunFailed     RunStatus = "failed"
)

// RunReport is the outcome of one pipeline run.
type RunReport struct {
	RunID       string      `json:"runId"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"startedAt"`
	FinishedAt  time.Time   `json:"finishedAt"`
	Years       []int       `json:"years"`
	LocationIDs []int       `json:"locationIds"`
	Stats       RunStats    `json:"stats"`
	Load        *LoadResult `json:"load,omitempty"`
	Error       string      `json:"error,omitempty"`
}
