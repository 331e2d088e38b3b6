package models

import "time"

// Stage names the pipeline stage that published an event.
type Stage string

const (
	StageJob      Stage = "job"
	StageFetch    Stage = "fetch"
	StageCollect  Stage = "collect"
	StageCurate   Stage = "curate"
	StageBriefing Stage = "briefing"
	StageEditor   Stage = "editor"
)

// Status is the fixed set of progress statuses carried on the event stream.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusFetching         Status = "fetching"
	StatusCollecting       Status = "collecting"
	StatusCurating         Status = "curating"
	StatusDocumentKept     Status = "document_kept"
	StatusDocumentDropped  Status = "document_dropped"
	StatusBriefingStart    Status = "briefing_start"
	StatusBriefingComplete Status = "briefing_complete"
	StatusReportChunk      Status = "report_chunk"
	StatusReportComplete   Status = "report_complete"
	StatusError            Status = "error"
)

// Terminal reports whether no further events follow this status for a job.
func (s Status) Terminal() bool {
	return s == StatusReportComplete || s == StatusError
}

// ProgressEvent is one entry on a job's event stream.
type ProgressEvent struct {
	JobID     string         `json:"job_id"`
	Seq       uint64         `json:"seq"`
	Stage     Stage          `json:"stage"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
