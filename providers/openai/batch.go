package openai

import (
	"github.com/lumenlabs/batchline/schemas"
)

// OpenAI Batch API wire types.

// batchCreateRequest is the request body for POST /v1/batches.
type batchCreateRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// batchResponse is the batch object returned by the OpenAI API.
type batchResponse struct {
	ID               string               `json:"id"`
	Object           string               `json:"object"`
	Endpoint         string               `json:"endpoint"`
	Errors           *schemas.BatchErrors `json:"errors,omitempty"`
	InputFileID      string               `json:"input_file_id"`
	CompletionWindow string               `json:"completion_window"`
	Status           string               `json:"status"`
	OutputFileID     *string              `json:"output_file_id,omitempty"`
	ErrorFileID      *string              `json:"error_file_id,omitempty"`
	CreatedAt        int64                `json:"created_at"`
	RequestCounts    *batchRequestCounts  `json:"request_counts,omitempty"`
	Metadata         map[string]string    `json:"metadata,omitempty"`
}

// batchRequestCounts mirrors the request_counts object of a batch.
type batchRequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// toBatchStatus converts an OpenAI status string to a schemas.BatchStatus.
// Unknown statuses pass through so the manager can log and fail safe.
func toBatchStatus(status string) schemas.BatchStatus {
	switch status {
	case "validating":
		return schemas.BatchStatusValidating
	case "failed":
		return schemas.BatchStatusFailed
	case "in_progress":
		return schemas.BatchStatusInProgress
	case "finalizing":
		return schemas.BatchStatusFinalizing
	case "completed":
		return schemas.BatchStatusCompleted
	case "expired":
		return schemas.BatchStatusExpired
	case "cancelling":
		return schemas.BatchStatusCancelling
	case "cancelled":
		return schemas.BatchStatusCancelled
	default:
		return schemas.BatchStatus(status)
	}
}

// toBatch converts the wire object to the uniform batch descriptor.
func (r *batchResponse) toBatch() *schemas.Batch {
	batch := &schemas.Batch{
		ID:               r.ID,
		Object:           r.Object,
		Endpoint:         r.Endpoint,
		Errors:           r.Errors,
		InputFileID:      r.InputFileID,
		CompletionWindow: r.CompletionWindow,
		Status:           toBatchStatus(r.Status),
		OutputFileID:     r.OutputFileID,
		ErrorFileID:      r.ErrorFileID,
		CreatedAt:        r.CreatedAt,
		Metadata:         r.Metadata,
	}

	if r.RequestCounts != nil {
		batch.RequestCounts = schemas.BatchRequestCounts{
			Total:     r.RequestCounts.Total,
			Completed: r.RequestCounts.Completed,
			Failed:    r.RequestCounts.Failed,
		}
	}

	return batch
}
