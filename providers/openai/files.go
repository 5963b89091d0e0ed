package openai

import (
	"github.com/lumenlabs/batchline/schemas"
)

// OpenAI File API wire types.

// fileResponse is the file object returned by the OpenAI API.
type fileResponse struct {
	ID            string  `json:"id"`
	Object        string  `json:"object"`
	Bytes         int64   `json:"bytes"`
	CreatedAt     int64   `json:"created_at"`
	Filename      string  `json:"filename"`
	Purpose       string  `json:"purpose"`
	Status        string  `json:"status,omitempty"`
	StatusDetails *string `json:"status_details,omitempty"`
}

// fileDeleteResponse is the response from DELETE /v1/files/{id}.
type fileDeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// toFileStatus converts an OpenAI file status string to a schemas.FileStatus.
func toFileStatus(status string) schemas.FileStatus {
	switch status {
	case "uploaded":
		return schemas.FileStatusUploaded
	case "processing", "in_progress":
		return schemas.FileStatusProcessing
	case "processed", "completed":
		return schemas.FileStatusProcessed
	case "error", "failed":
		return schemas.FileStatusError
	case "deleted":
		return schemas.FileStatusDeleted
	default:
		return schemas.FileStatus(status)
	}
}

// toFile converts the wire object to the uniform file descriptor.
func (r *fileResponse) toFile() *schemas.File {
	return &schemas.File{
		ID:            r.ID,
		Object:        r.Object,
		Bytes:         r.Bytes,
		CreatedAt:     r.CreatedAt,
		Filename:      r.Filename,
		Purpose:       schemas.FilePurpose(r.Purpose),
		Status:        toFileStatus(r.Status),
		StatusDetails: r.StatusDetails,
	}
}

// SplitJSONL splits JSONL content into individual lines, tolerating CRLF
// endings and a missing trailing newline.
func SplitJSONL(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			end := i
			if end > start && data[end-1] == '\r' {
				end--
			}
			if end > start {
				lines = append(lines, data[start:end])
			}
			start = i + 1
		}
	}
	return lines
}
