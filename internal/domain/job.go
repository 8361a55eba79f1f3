package domain

import "time"

// JobKind enumerates the remote operations a pipeline stage can submit.
type JobKind string

const (
	JobKindGenerate         JobKind = "generate"
	JobKindUpload           JobKind = "upload"
	JobKindExpand           JobKind = "expand"
	JobKindFill             JobKind = "fill"
	JobKindRemoveBackground JobKind = "remove_background"
	JobKindMask             JobKind = "mask"
	JobKindAction           JobKind = "action"
	JobKindComposite        JobKind = "composite"
	JobKindDocument         JobKind = "document"
)

// JobStatus enumerates remote job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further status change is expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is the ledger record for one submitted remote job. A record is opened
// at submission and closed once a terminal status is observed.
type Job struct {
	ID           string
	RunID        string
	Unit         string
	Stage        string
	Service      string
	Kind         JobKind
	StatusURL    string
	Status       JobStatus
	ResultJSON   []byte
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UnitOutcome records how one pipeline unit ended within a run. Failed and
// skipped units keep the stage they stopped at and the cause, which is
// enough to re-run that unit alone.
type UnitOutcome struct {
	RunID     string
	Unit      string
	Params    map[string]string
	Stage     string
	Outcome   string
	Error     string
	UpdatedAt time.Time
}
