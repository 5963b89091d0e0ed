package schemas

import "errors"

// Fatal configuration and orchestration errors. Configuration errors are
// raised before any provider I/O; the others abort a run.
var (
	// ErrMissingCredential is returned when no provider API key is available.
	ErrMissingCredential = errors.New("provider API key is not set")

	// ErrBatchTooLarge is returned when a batch file would carry more
	// requests than the provider accepts.
	ErrBatchTooLarge = errors.New("batch file exceeds the maximum request count")

	// ErrBatchFileTooBig is returned when a batch file body would exceed
	// the provider's upload size limit.
	ErrBatchFileTooBig = errors.New("batch file exceeds the maximum upload size")

	// ErrResumeInconsistent is returned when a downloaded journal entry
	// references a request file whose response file is missing, or a
	// request file the working directory does not know about.
	ErrResumeInconsistent = errors.New("downloaded journal is inconsistent with the working directory")

	// ErrNoCompletedBatches is returned when polling finishes without a
	// single successfully downloaded batch.
	ErrNoCompletedBatches = errors.New("none of the submitted batches completed successfully")
)
