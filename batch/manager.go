package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lumenlabs/batchline/schemas"
)

// Provider hard limits, enforced before any upload.
const (
	MaxRequestsPerBatch = 50_000
	MaxBytesPerBatch    = 200 * 1024 * 1024
)

const (
	// DefaultMaxConcurrentOperations caps in-flight provider calls. Staying
	// at 100 keeps ~1,000 simultaneous batches under the API rate limits.
	DefaultMaxConcurrentOperations = 100

	// DefaultCheckInterval is the sleep between poll cycles.
	DefaultCheckInterval = 60 * time.Second

	// maxDownloadAttempts bounds how many poll cycles retry a failing
	// result download before the batch is given up on.
	maxDownloadAttempts = 5
)

// ProviderClient is the capability set the manager needs from the remote
// Batch API. Errors are surfaced unchanged; the manager decides policy.
type ProviderClient interface {
	KeySuffix() string
	FileUpload(ctx context.Context, content []byte, filename string) (*schemas.File, error)
	WaitForFileReady(ctx context.Context, fileID string) (*schemas.File, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
	FileDelete(ctx context.Context, fileID string) (bool, error)
	BatchCreate(ctx context.Context, inputFileID string, metadata map[string]string) (*schemas.Batch, error)
	BatchRetrieve(ctx context.Context, batchID string) (*schemas.Batch, error)
	BatchCancel(ctx context.Context, batchID string) (*schemas.Batch, error)
}

// LineBuilder converts a request file into provider-specific payload lines.
type LineBuilder func(requestFile string) ([][]byte, error)

// ResponseWriter transforms downloaded provider content into a response
// file. content is the raw output or error file of the batch.
type ResponseWriter func(content []byte, batch *schemas.Batch, responseFile string) error

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	WorkingDir              string
	CheckInterval           time.Duration
	MaxConcurrentOperations int

	// DeleteSuccessfulBatchFiles removes provider-side input and output
	// files after a successful download.
	DeleteSuccessfulBatchFiles bool

	// DeleteFailedBatchFiles removes provider-side input and error files
	// after a terminal non-success.
	DeleteFailedBatchFiles bool
}

// CheckAndSetDefaults validates the config and fills unset fields.
func (c *ManagerConfig) CheckAndSetDefaults() error {
	if c.WorkingDir == "" {
		return fmt.Errorf("working directory is required")
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.MaxConcurrentOperations == 0 {
		c.MaxConcurrentOperations = DefaultMaxConcurrentOperations
	}
	return nil
}

// Manager drives the submission, polling, download, resume and cancellation
// of provider batches for one working directory.
type Manager struct {
	client ProviderClient
	config ManagerConfig
	logger schemas.Logger

	tracker *StatusTracker
	sem     chan struct{}
	runID   string

	submittedJournal  *Journal
	downloadedJournal *Journal

	// nResponseFiles counts response files written this run; a run that
	// produces none is a fatal orchestration error.
	nResponseFiles atomic.Int64
}

// NewManager creates a manager over the given provider client. Journals are
// suffixed with the client's key suffix so accounts can share a directory.
func NewManager(client ProviderClient, config *ManagerConfig, logger schemas.Logger) (*Manager, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, err
	}

	keySuffix := client.KeySuffix()
	return &Manager{
		client:            client,
		config:            *config,
		logger:            logger,
		tracker:           NewStatusTracker(),
		sem:               make(chan struct{}, config.MaxConcurrentOperations),
		runID:             uuid.NewString(),
		submittedJournal:  NewJournal(SubmittedJournalPath(config.WorkingDir, keySuffix)),
		downloadedJournal: NewJournal(DownloadedJournalPath(config.WorkingDir, keySuffix)),
	}, nil
}

// Tracker exposes the status tracker for progress projections.
func (m *Manager) Tracker() *StatusTracker {
	return m.tracker
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.sem
}

// RequestToResponseFile derives the response file path paired with a
// request file: requests_<suffix> maps to responses_<suffix>.
func RequestToResponseFile(requestFile, workingDir string) string {
	base := filepath.Base(requestFile)
	_, suffix, _ := strings.Cut(base, "_")
	return filepath.Join(workingDir, "responses_"+suffix)
}

// ResponseToRequestFile derives the request file path paired with a
// response file.
func ResponseToRequestFile(responseFile, workingDir string) string {
	base := filepath.Base(responseFile)
	_, suffix, _ := strings.Cut(base, "_")
	return filepath.Join(workingDir, "requests_"+suffix)
}

// buildBatchFileContent joins payload lines into one upload body, enforcing
// the provider's request-count and byte-size limits before any upload call.
func buildBatchFileContent(lines [][]byte) ([]byte, error) {
	if len(lines) > MaxRequestsPerBatch {
		return nil, fmt.Errorf("batch file contains %d requests, more than the maximum of %d: %w",
			len(lines), MaxRequestsPerBatch, schemas.ErrBatchTooLarge)
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if buf.Len() > MaxBytesPerBatch {
		return nil, fmt.Errorf("batch file content size %d bytes is greater than the maximum of %d: %w",
			buf.Len(), MaxBytesPerBatch, schemas.ErrBatchFileTooBig)
	}
	return buf.Bytes(), nil
}

// SubmitBatchesFromRequestFiles resumes prior work from the journals, then
// submits every remaining request file as a batch with bounded concurrency.
func (m *Manager) SubmitBatchesFromRequestFiles(ctx context.Context, requestFiles []string, buildLines LineBuilder) error {
	m.tracker.SeedUnsubmitted(requestFiles)

	if err := m.resumeDownloadedBatches(); err != nil {
		return err
	}
	if err := m.resumeSubmittedBatches(ctx); err != nil {
		return err
	}

	remaining := m.tracker.UnsubmittedRequestFiles()
	if len(remaining) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(remaining))
	for _, requestFile := range remaining {
		wg.Add(1)
		go func(requestFile string) {
			defer wg.Done()
			if err := m.submitBatchFromRequestFile(ctx, requestFile, buildLines); err != nil {
				m.logger.Error(fmt.Errorf("failed to submit batch for %s: %w", requestFile, err))
				errChan <- err
			}
		}(requestFile)
	}
	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return err
	}
	m.logger.Debug(fmt.Sprintf("all batch objects submitted and written to %s", m.submittedJournal.Path()))
	return nil
}

// resumeDownloadedBatches removes request files already completed in a
// previous run. A journal entry is honored only when the paired response
// file exists; anything else is a consistency error.
func (m *Manager) resumeDownloadedBatches() error {
	batches, err := ReadDownloadedJournals(m.config.WorkingDir)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		requestFile := batch.RequestFileName()
		responseFile := RequestToResponseFile(requestFile, m.config.WorkingDir)

		if !m.tracker.IsUnsubmitted(requestFile) {
			return fmt.Errorf("downloaded journal references unknown request file %s: %w",
				requestFile, schemas.ErrResumeInconsistent)
		}
		if _, err := os.Stat(responseFile); err != nil {
			return fmt.Errorf("downloaded journal references batch %s but response file %s is missing: %w",
				batch.ID, responseFile, schemas.ErrResumeInconsistent)
		}

		if err := m.tracker.MarkAsSubmitted(requestFile, batch); err != nil {
			return err
		}
		m.tracker.MarkAsFinished(batch)
		m.tracker.MarkAsDownloaded(batch)
		m.nResponseFiles.Add(1)
	}

	if n := m.tracker.NDownloadedBatches(); n > 0 {
		m.logger.Info(fmt.Sprintf("%d batches already downloaded", n))
	}
	return nil
}

// resumeSubmittedBatches re-registers batches from the submitted journal,
// retrieving each so the tracker sees current request counts and statuses.
func (m *Manager) resumeSubmittedBatches(ctx context.Context) error {
	batches, err := m.submittedJournal.Read()
	if err != nil {
		return err
	}

	for _, journaled := range batches {
		requestFile := journaled.RequestFileName()
		if !m.tracker.IsUnsubmitted(requestFile) {
			// Already accounted for by the downloaded journal.
			continue
		}
		m.logger.Debug(fmt.Sprintf("already submitted batch %s for request file %s, retrieving current status", journaled.ID, requestFile))

		batch, err := m.client.BatchRetrieve(ctx, journaled.ID)
		if err != nil {
			return fmt.Errorf("failed to retrieve previously submitted batch %s: %w", journaled.ID, err)
		}
		if err := m.tracker.MarkAsSubmitted(requestFile, batch); err != nil {
			return err
		}
	}

	if n := m.tracker.NSubmittedBatches(); n > 0 {
		m.logger.Info(fmt.Sprintf("%d batches are already submitted", n))
	}
	return nil
}

// submitBatchFromRequestFile builds, validates, uploads and registers one
// batch. The size limits are checked before any provider call.
func (m *Manager) submitBatchFromRequestFile(ctx context.Context, requestFile string, buildLines LineBuilder) error {
	lines, err := buildLines(requestFile)
	if err != nil {
		return err
	}
	content, err := buildBatchFileContent(lines)
	if err != nil {
		return err
	}

	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	file, err := m.client.FileUpload(ctx, content, filepath.Base(requestFile))
	if err != nil {
		return err
	}
	if _, err := m.client.WaitForFileReady(ctx, file.ID); err != nil {
		return err
	}

	metadata := map[string]string{
		schemas.MetadataRequestFileName: requestFile,
		"run_id":                        m.runID,
	}
	batch, err := m.client.BatchCreate(ctx, file.ID, metadata)
	if err != nil {
		return err
	}

	if err := m.submittedJournal.Append(batch); err != nil {
		return err
	}
	if err := m.tracker.MarkAsSubmitted(requestFile, batch); err != nil {
		return err
	}
	m.logger.Debug(fmt.Sprintf("marked %s as submitted with batch id %s", requestFile, batch.ID))
	return nil
}

// PollAndProcess polls every submitted batch until all reach a terminal
// status, downloading results as they finish. It returns a fatal error when
// the run ends without a single response file.
func (m *Manager) PollAndProcess(ctx context.Context, write ResponseWriter) error {
	// Batches whose result download failed; retried on later cycles up to
	// maxDownloadAttempts each.
	pending := make(map[string]*schemas.Batch)
	attempts := make(map[string]int)

	for m.tracker.NSubmittedBatches() > 0 || len(pending) > 0 {
		finished := m.checkSubmittedBatches(ctx)
		for _, batch := range pending {
			finished = append(finished, batch)
		}
		pending = make(map[string]*schemas.Batch)

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, batch := range finished {
			wg.Add(1)
			go func(batch *schemas.Batch) {
				defer wg.Done()
				if err := m.downloadBatchToResponseFile(ctx, batch, write); err != nil {
					m.logger.Error(fmt.Errorf("failed to process batch %s: %w", batch.ID, err))
					mu.Lock()
					attempts[batch.ID]++
					if attempts[batch.ID] < maxDownloadAttempts {
						pending[batch.ID] = batch
					} else {
						m.logger.Error(fmt.Errorf("giving up on batch %s after %d download attempts", batch.ID, maxDownloadAttempts))
					}
					mu.Unlock()
				}
			}(batch)
		}
		wg.Wait()

		progress := m.tracker.Progress()
		m.logger.Info(fmt.Sprintf("batches returned: %d/%d, requests finished: %d/%d",
			progress.FinishedBatches+progress.DownloadedBatches, progress.TotalBatches,
			progress.FinishedRequests+progress.DownloadedRequests, progress.TotalRequests))

		if m.tracker.NSubmittedBatches() == 0 && len(pending) == 0 {
			break
		}

		m.logger.Debug(fmt.Sprintf("sleeping for %s", m.config.CheckInterval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.CheckInterval):
		}
	}

	if m.nResponseFiles.Load() == 0 {
		return schemas.ErrNoCompletedBatches
	}
	return nil
}

// checkSubmittedBatches retrieves every submitted batch concurrently and
// returns those that reached a terminal status, marking them finished.
// Retrieve errors are logged; the affected batch is re-examined next cycle.
func (m *Manager) checkSubmittedBatches(ctx context.Context) []*schemas.Batch {
	ids := m.tracker.SubmittedBatchIDs()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var finished []*schemas.Batch

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.acquire(ctx); err != nil {
				return
			}
			defer m.release()

			batch, err := m.client.BatchRetrieve(ctx, id)
			if err != nil {
				m.logger.Error(fmt.Errorf("failed to check batch %s: %w", id, err))
				return
			}

			counts := batch.RequestCounts
			m.logger.Debug(fmt.Sprintf("batch %s status: %s requests: %d/%d/%d completed/failed/total",
				batch.ID, batch.Status, counts.Completed, counts.Failed, counts.Total))

			if !batch.Status.Finished() {
				if !batch.Status.InProgress() {
					m.logger.Warn(fmt.Sprintf("unknown batch status %q for batch %s, treating as in progress", batch.Status, batch.ID))
				}
				return
			}

			m.tracker.MarkAsFinished(batch)
			m.logger.Debug(fmt.Sprintf("batch %s returned with status %s", batch.ID, batch.Status))
			mu.Lock()
			finished = append(finished, batch)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return finished
}

// downloadResult is the explicit outcome of the terminal-status download
// policy: either downloadable content, or nothing to download.
type downloadResult struct {
	Content []byte
	Empty   bool

	// deleteFileIDs are provider-side files to remove per the configured
	// deletion policy; deletions run after local persistence.
	deleteFileIDs []string
}

// downloadBatch applies the per-status download policy.
func (m *Manager) downloadBatch(ctx context.Context, batch *schemas.Batch) (downloadResult, error) {
	switch {
	case batch.Status == schemas.BatchStatusCompleted && batch.OutputFileID != nil:
		if err := m.acquire(ctx); err != nil {
			return downloadResult{}, err
		}
		content, err := m.client.FileContent(ctx, *batch.OutputFileID)
		m.release()
		if err != nil {
			return downloadResult{}, err
		}
		m.logger.Debug(fmt.Sprintf("batch %s completed and downloaded", batch.ID))

		result := downloadResult{Content: content}
		if m.config.DeleteSuccessfulBatchFiles {
			result.deleteFileIDs = []string{batch.InputFileID, *batch.OutputFileID}
		}
		return result, nil

	case batch.Status == schemas.BatchStatusFailed && batch.ErrorFileID != nil:
		if err := m.acquire(ctx); err != nil {
			return downloadResult{}, err
		}
		content, err := m.client.FileContent(ctx, *batch.ErrorFileID)
		m.release()
		if err != nil {
			return downloadResult{}, err
		}
		m.logger.Warn(fmt.Sprintf("batch %s failed, errors will be parsed from its error file", batch.ID))

		result := downloadResult{Content: content}
		if m.config.DeleteFailedBatchFiles {
			result.deleteFileIDs = []string{batch.InputFileID, *batch.ErrorFileID}
		}
		return result, nil

	case batch.Status == schemas.BatchStatusFailed:
		m.logger.Error(fmt.Errorf("batch %s failed with no error file, batch errors: %s", batch.ID, formatBatchErrors(batch.Errors)))
		result := downloadResult{Empty: true}
		if m.config.DeleteFailedBatchFiles {
			result.deleteFileIDs = []string{batch.InputFileID}
		}
		return result, nil

	case batch.Status == schemas.BatchStatusCompleted:
		// Completed without an output file. The provider may still be
		// materializing it, so nothing is deleted.
		m.logger.Warn(fmt.Sprintf("batch %s completed but has no output file", batch.ID))
		return downloadResult{Empty: true}, nil

	default:
		// cancelled or expired.
		m.logger.Warn(fmt.Sprintf("batch %s ended with status %s and produced no output", batch.ID, batch.Status))
		result := downloadResult{Empty: true}
		if m.config.DeleteFailedBatchFiles {
			result.deleteFileIDs = []string{batch.InputFileID}
		}
		return result, nil
	}
}

// downloadBatchToResponseFile downloads a finished batch, writes its
// response file, journals the batch and applies the file deletion policy.
// The journal append happens only after the response file is persisted.
func (m *Manager) downloadBatchToResponseFile(ctx context.Context, batch *schemas.Batch, write ResponseWriter) error {
	result, err := m.downloadBatch(ctx, batch)
	if err != nil {
		return err
	}

	if !result.Empty {
		responseFile := RequestToResponseFile(batch.RequestFileName(), m.config.WorkingDir)
		if err := write(result.Content, batch, responseFile); err != nil {
			return err
		}
		m.logger.Debug(fmt.Sprintf("batch %s written to %s", batch.ID, responseFile))

		if err := m.downloadedJournal.Append(batch); err != nil {
			return err
		}
		m.nResponseFiles.Add(1)
	}

	m.deleteProviderFiles(ctx, result.deleteFileIDs)
	m.tracker.MarkAsDownloaded(batch)
	m.logger.Debug(fmt.Sprintf("marked batch %s as downloaded", batch.ID))
	return nil
}

// deleteProviderFiles removes provider-side files, best effort. Failures
// cost quota, not correctness, so they are logged and ignored.
func (m *Manager) deleteProviderFiles(ctx context.Context, fileIDs []string) {
	for _, fileID := range fileIDs {
		if fileID == "" {
			continue
		}
		if err := m.acquire(ctx); err != nil {
			return
		}
		deleted, err := m.client.FileDelete(ctx, fileID)
		m.release()
		if err != nil {
			m.logger.Warn(fmt.Sprintf("failed to delete file %s: %v", fileID, err))
			continue
		}
		if !deleted {
			m.logger.Warn(fmt.Sprintf("provider did not delete file %s", fileID))
			continue
		}
		m.logger.Debug(fmt.Sprintf("deleted file %s", fileID))
	}
}

// CancelSubmittedBatches cancels every non-completed batch recorded in the
// submitted journal and renames the journal out of the resume path. It
// returns the number of batches successfully cancelled and the number of
// cancel attempts that failed.
func (m *Manager) CancelSubmittedBatches(ctx context.Context) (cancelled int, failed int, err error) {
	if !m.submittedJournal.Exists() {
		m.logger.Warn("no submitted batches journal found, nothing to cancel")
		return 0, 0, nil
	}

	batches, err := m.submittedJournal.Read()
	if err != nil {
		return 0, 0, err
	}

	var nCancelled, nFailed atomic.Int64
	var wg sync.WaitGroup
	for _, journaled := range batches {
		wg.Add(1)
		go func(batchID string) {
			defer wg.Done()
			if err := m.acquire(ctx); err != nil {
				nFailed.Add(1)
				return
			}
			defer m.release()

			batch, err := m.client.BatchRetrieve(ctx, batchID)
			if err != nil {
				m.logger.Error(fmt.Errorf("failed to retrieve batch %s before cancelling: %w", batchID, err))
				nFailed.Add(1)
				return
			}
			if batch.Status == schemas.BatchStatusCompleted {
				m.logger.Warn(fmt.Sprintf("batch %s is already completed, cannot cancel", batchID))
				return
			}

			if _, err := m.client.BatchCancel(ctx, batchID); err != nil {
				m.logger.Error(fmt.Errorf("failed to cancel batch %s: %w", batchID, err))
				nFailed.Add(1)
				return
			}
			m.logger.Info(fmt.Sprintf("successfully cancelled batch %s", batchID))
			nCancelled.Add(1)
		}(journaled.ID)
	}
	wg.Wait()

	m.logger.Warn(fmt.Sprintf("%d out of %d batches successfully cancelled", nCancelled.Load(), len(batches)))

	m.logger.Info(fmt.Sprintf("moving submitted journal to %s%s", m.submittedJournal.Path(), CancelledJournalSuffix))
	if err := m.submittedJournal.MarkCancelled(); err != nil {
		return int(nCancelled.Load()), int(nFailed.Load()), err
	}
	return int(nCancelled.Load()), int(nFailed.Load()), nil
}

func formatBatchErrors(batchErrors *schemas.BatchErrors) string {
	if batchErrors == nil || len(batchErrors.Data) == 0 {
		return "none reported"
	}
	parts := make([]string, 0, len(batchErrors.Data))
	for _, e := range batchErrors.Data {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}
