// Package schemas defines the core types shared across the batchline system.
package schemas

// BatchStatus represents the provider-side status of a batch job.
type BatchStatus string

const (
	BatchStatusValidating BatchStatus = "validating"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusFinalizing BatchStatus = "finalizing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusExpired    BatchStatus = "expired"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// MetadataRequestFileName is the batch metadata key that carries the
// originating request file. Every batch created by batchline sets it.
const MetadataRequestFileName = "request_file_name"

// Finished reports whether the status is terminal: the provider will not
// advance the batch any further and results (if any) can be downloaded.
func (s BatchStatus) Finished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return true
	}
	return false
}

// InProgress reports whether the status is a known non-terminal state.
// A status that is neither InProgress nor Finished is unknown to this
// version of the client and is treated as in-progress by the manager.
func (s BatchStatus) InProgress() bool {
	switch s {
	case BatchStatusValidating, BatchStatusInProgress, BatchStatusFinalizing, BatchStatusCancelling:
		return true
	}
	return false
}

// BatchRequestCounts tracks the counts of requests inside one batch.
type BatchRequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Finished returns the number of requests the provider is done with,
// successfully or not.
func (c BatchRequestCounts) Finished() int {
	return c.Completed + c.Failed
}

// BatchErrors represents errors the provider attached to a batch object.
type BatchErrors struct {
	Object string       `json:"object,omitempty"`
	Data   []BatchError `json:"data,omitempty"`
}

// BatchError is a single provider-reported batch error.
type BatchError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	Line    *int   `json:"line,omitempty"`
}

// Batch is the provider-issued batch descriptor. It is journaled verbatim
// to disk, so its JSON shape must stay stable across versions.
type Batch struct {
	ID               string             `json:"id"`
	Object           string             `json:"object,omitempty"`
	Endpoint         string             `json:"endpoint,omitempty"`
	Errors           *BatchErrors       `json:"errors,omitempty"`
	InputFileID      string             `json:"input_file_id"`
	CompletionWindow string             `json:"completion_window,omitempty"`
	Status           BatchStatus        `json:"status"`
	OutputFileID     *string            `json:"output_file_id,omitempty"`
	ErrorFileID      *string            `json:"error_file_id,omitempty"`
	CreatedAt        int64              `json:"created_at"`
	RequestCounts    BatchRequestCounts `json:"request_counts"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
}

// RequestFileName returns the originating request file recorded in the
// batch metadata, or "" when the batch was not created by batchline.
func (b *Batch) RequestFileName() string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[MetadataRequestFileName]
}
