package models

import "time"

// JobStatus is the lifecycle state of a sorting job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Job is the status record for one sorting run. It is kept in the in-memory
// registry and, when Firestore is configured, mirrored to a collection.
type Job struct {
	ID                string    `firestore:"id,omitempty" json:"id"`
	Status            JobStatus `firestore:"status,omitempty" json:"status"`
	Progress          int       `firestore:"progress" json:"progress"`
	Message           string    `firestore:"message,omitempty" json:"message,omitempty"`
	OutputFiles       []string  `firestore:"outputFiles,omitempty" json:"outputFiles"`
	ArchiveRef        string    `firestore:"archiveRef,omitempty" json:"archiveRef,omitempty"`
	SourceNames       []string  `firestore:"sourceNames,omitempty" json:"sourceNames,omitempty"`
	FileHash          string    `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	PageCount         int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	GroupedCount      int       `firestore:"groupedCount,omitempty" json:"groupedCount,omitempty"`
	ConsolidatedCount int       `firestore:"consolidatedCount,omitempty" json:"consolidatedCount,omitempty"`
	CreatedAt         time.Time `firestore:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt,omitempty" json:"updatedAt"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}

// SourceFile is one uploaded PDF handed to a job.
type SourceFile struct {
	Name string
	Path string
}
