package models

// These structs define the JSON payloads exchanged with the thin HTTP layer
// and the downstream workflow.

// SubmitResponse is returned when a batch of slips has been accepted.
type SubmitResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// StatusResponse is the polling view of a job.
type StatusResponse struct {
	JobID       string    `json:"jobId"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message,omitempty"`
	OutputNames []string  `json:"outputNames"`
	ArchiveRef  *string   `json:"archiveRef"`
}

// StatusFromJob builds the polling view from a job snapshot.
func StatusFromJob(j Job) StatusResponse {
	res := StatusResponse{
		JobID:       j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Message:     j.Message,
		OutputNames: append([]string{}, j.OutputFiles...),
	}
	if j.ArchiveRef != "" {
		ref := j.ArchiveRef
		res.ArchiveRef = &ref
	}
	return res
}

// JobCompletedPayload is the argument of the hand-off workflow execution.
type JobCompletedPayload struct {
	JobID       string   `json:"jobId"`
	ArchiveRef  string   `json:"archiveRef"`
	OutputNames []string `json:"outputNames"`
}
