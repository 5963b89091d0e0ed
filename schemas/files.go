package schemas

// FilePurpose identifies why a file was uploaded to the provider.
type FilePurpose string

const (
	// FilePurposeBatch marks an upload as input for the Batch API.
	FilePurposeBatch FilePurpose = "batch"
)

// FileStatus represents the provider-side processing state of a file.
type FileStatus string

const (
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusProcessing FileStatus = "processing"
	FileStatusProcessed  FileStatus = "processed"
	FileStatusError      FileStatus = "error"
	FileStatusDeleted    FileStatus = "deleted"
)

// Ready reports whether the file can be referenced by a batch creation call.
func (s FileStatus) Ready() bool {
	return s == FileStatusProcessed
}

// File is the provider-issued file object for uploaded batch inputs and
// downloaded outputs.
type File struct {
	ID            string      `json:"id"`
	Object        string      `json:"object,omitempty"`
	Bytes         int64       `json:"bytes"`
	CreatedAt     int64       `json:"created_at"`
	Filename      string      `json:"filename"`
	Purpose       FilePurpose `json:"purpose"`
	Status        FileStatus  `json:"status,omitempty"`
	StatusDetails *string     `json:"status_details,omitempty"`
}
