package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlabs/batchline/schemas"
)

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(error)  {}

// fakeClient is an in-memory provider: uploads become files, created
// batches reach terminalStatus after pollsBeforeTerminal retrieves, and
// completed batches echo their input file as output.
type fakeClient struct {
	mu sync.Mutex

	terminalStatus      schemas.BatchStatus
	pollsBeforeTerminal int
	withErrorFile       bool
	withoutOutputFile   bool

	calls     map[string]int
	files     map[string][]byte
	batches   map[string]*schemas.Batch
	retrieves map[string]int
	nextID    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		terminalStatus: schemas.BatchStatusCompleted,
		calls:          map[string]int{},
		files:          map[string][]byte{},
		batches:        map[string]*schemas.Batch{},
		retrieves:      map[string]int{},
	}
}

func (c *fakeClient) KeySuffix() string { return "ab12" }

func (c *fakeClient) FileUpload(_ context.Context, content []byte, _ string) (*schemas.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["FileUpload"]++
	c.nextID++
	id := fmt.Sprintf("file_%d", c.nextID)
	c.files[id] = append([]byte(nil), content...)
	return &schemas.File{ID: id, Status: schemas.FileStatusProcessed}, nil
}

func (c *fakeClient) WaitForFileReady(_ context.Context, fileID string) (*schemas.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["WaitForFileReady"]++
	return &schemas.File{ID: fileID, Status: schemas.FileStatusProcessed}, nil
}

func (c *fakeClient) FileContent(_ context.Context, fileID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["FileContent"]++
	content, ok := c.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return append([]byte(nil), content...), nil
}

func (c *fakeClient) FileDelete(_ context.Context, fileID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["FileDelete"]++
	_, ok := c.files[fileID]
	delete(c.files, fileID)
	return ok, nil
}

func (c *fakeClient) BatchCreate(_ context.Context, inputFileID string, metadata map[string]string) (*schemas.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["BatchCreate"]++
	c.nextID++
	batch := &schemas.Batch{
		ID:          fmt.Sprintf("batch_%d", c.nextID),
		Status:      schemas.BatchStatusValidating,
		InputFileID: inputFileID,
		Metadata:    metadata,
	}
	c.batches[batch.ID] = batch
	return cloneBatch(batch), nil
}

// addBatch seeds a batch as if created by an earlier run.
func (c *fakeClient) addBatch(batch *schemas.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches[batch.ID] = cloneBatch(batch)
}

func (c *fakeClient) BatchRetrieve(_ context.Context, batchID string) (*schemas.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["BatchRetrieve"]++
	batch, ok := c.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}

	c.retrieves[batchID]++
	if c.retrieves[batchID] > c.pollsBeforeTerminal && batch.Status.InProgress() {
		batch.Status = c.terminalStatus
		total := countLines(c.files[batch.InputFileID])
		switch {
		case c.terminalStatus == schemas.BatchStatusCompleted && c.withoutOutputFile:
			batch.RequestCounts = schemas.BatchRequestCounts{Total: total, Completed: total}
		case c.terminalStatus == schemas.BatchStatusCompleted:
			outputID := batch.ID + "_output"
			c.files[outputID] = append([]byte(nil), c.files[batch.InputFileID]...)
			batch.OutputFileID = &outputID
			batch.RequestCounts = schemas.BatchRequestCounts{Total: total, Completed: total}
		case c.terminalStatus == schemas.BatchStatusFailed && c.withErrorFile:
			errorID := batch.ID + "_errors"
			c.files[errorID] = append([]byte(nil), c.files[batch.InputFileID]...)
			batch.ErrorFileID = &errorID
			batch.RequestCounts = schemas.BatchRequestCounts{Total: total, Failed: total}
		default:
			batch.RequestCounts = schemas.BatchRequestCounts{Total: total}
		}
	}
	return cloneBatch(batch), nil
}

func (c *fakeClient) BatchCancel(_ context.Context, batchID string) (*schemas.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["BatchCancel"]++
	batch, ok := c.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}
	batch.Status = schemas.BatchStatusCancelled
	return cloneBatch(batch), nil
}

func cloneBatch(b *schemas.Batch) *schemas.Batch {
	clone := *b
	if b.OutputFileID != nil {
		id := *b.OutputFileID
		clone.OutputFileID = &id
	}
	if b.ErrorFileID != nil {
		id := *b.ErrorFileID
		clone.ErrorFileID = &id
	}
	if b.Metadata != nil {
		clone.Metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func countLines(content []byte) int {
	n := 0
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	return n
}

func linesFor(requestFile string) [][]byte {
	return [][]byte{
		[]byte(fmt.Sprintf(`{"custom_id":"0","file":%q}`, requestFile)),
		[]byte(fmt.Sprintf(`{"custom_id":"1","file":%q}`, requestFile)),
	}
}

func rawResponseWriter(content []byte, _ *schemas.Batch, responseFile string) error {
	return os.WriteFile(responseFile, content, 0o644)
}

func newTestManager(t *testing.T, client ProviderClient, dir string) *Manager {
	t.Helper()
	manager, err := NewManager(client, &ManagerConfig{
		WorkingDir:    dir,
		CheckInterval: time.Millisecond,
	}, nopLogger{})
	require.NoError(t, err)
	return manager
}

func TestManagerSubmitAndPoll(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	manager := newTestManager(t, client, dir)

	requestFiles := []string{
		filepath.Join(dir, "requests_0.jsonl"),
		filepath.Join(dir, "requests_1.jsonl"),
	}

	err := manager.SubmitBatchesFromRequestFiles(context.Background(), requestFiles, func(f string) ([][]byte, error) {
		return linesFor(f), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls["FileUpload"])
	assert.Equal(t, 2, client.calls["BatchCreate"])
	assert.Equal(t, 2, manager.Tracker().NSubmittedBatches())

	require.NoError(t, manager.PollAndProcess(context.Background(), rawResponseWriter))

	assert.Equal(t, 2, manager.Tracker().NDownloadedBatches())
	for _, requestFile := range requestFiles {
		responseFile := RequestToResponseFile(requestFile, dir)
		content, err := os.ReadFile(responseFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), filepath.Base(requestFile))
	}

	// Both journals carry one entry per batch.
	submitted, err := NewJournal(SubmittedJournalPath(dir, client.KeySuffix())).Read()
	require.NoError(t, err)
	assert.Len(t, submitted, 2)
	downloaded, err := ReadDownloadedJournals(dir)
	require.NoError(t, err)
	assert.Len(t, downloaded, 2)
}

func TestManagerPollWaitsForTerminalStatus(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	client.pollsBeforeTerminal = 2
	manager := newTestManager(t, client, dir)

	requestFiles := []string{filepath.Join(dir, "requests_0.jsonl")}
	err := manager.SubmitBatchesFromRequestFiles(context.Background(), requestFiles, func(f string) ([][]byte, error) {
		return linesFor(f), nil
	})
	require.NoError(t, err)

	require.NoError(t, manager.PollAndProcess(context.Background(), rawResponseWriter))
	assert.GreaterOrEqual(t, client.calls["BatchRetrieve"], 3)
	assert.Equal(t, 1, manager.Tracker().NDownloadedBatches())
}

func TestBuildBatchFileContentLimits(t *testing.T) {
	t.Run("too many requests", func(t *testing.T) {
		lines := make([][]byte, MaxRequestsPerBatch+1)
		for i := range lines {
			lines[i] = []byte("{}")
		}
		_, err := buildBatchFileContent(lines)
		assert.ErrorIs(t, err, schemas.ErrBatchTooLarge)
	})

	t.Run("too many bytes", func(t *testing.T) {
		_, err := buildBatchFileContent([][]byte{make([]byte, MaxBytesPerBatch)})
		assert.ErrorIs(t, err, schemas.ErrBatchFileTooBig)
	})

	t.Run("within limits", func(t *testing.T) {
		content, err := buildBatchFileContent([][]byte{[]byte("{}"), []byte("{}")})
		require.NoError(t, err)
		assert.Equal(t, "{}\n{}\n", string(content))
	})
}

func TestManagerSubmitRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	manager := newTestManager(t, client, dir)

	lines := make([][]byte, MaxRequestsPerBatch+1)
	for i := range lines {
		lines[i] = []byte("{}")
	}
	err := manager.SubmitBatchesFromRequestFiles(context.Background(),
		[]string{filepath.Join(dir, "requests_0.jsonl")},
		func(string) ([][]byte, error) { return lines, nil })

	assert.ErrorIs(t, err, schemas.ErrBatchTooLarge)
	assert.Zero(t, client.calls["FileUpload"])
}

func TestManagerResumeFromDownloadedJournal(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()

	requestFile := filepath.Join(dir, "requests_0.jsonl")
	responseFile := RequestToResponseFile(requestFile, dir)
	require.NoError(t, os.WriteFile(responseFile, []byte("{\"done\":true}\n"), 0o644))

	journal := NewJournal(DownloadedJournalPath(dir, client.KeySuffix()))
	require.NoError(t, journal.Append(newTestBatch("batch_prev", requestFile, schemas.BatchStatusCompleted, 2, 0, 2)))

	manager := newTestManager(t, client, dir)
	err := manager.SubmitBatchesFromRequestFiles(context.Background(), []string{requestFile},
		func(string) ([][]byte, error) { return nil, fmt.Errorf("must not be called") })
	require.NoError(t, err)
	require.NoError(t, manager.PollAndProcess(context.Background(), rawResponseWriter))

	// A fully downloaded prior run resumes with zero provider calls and
	// leaves the response file untouched.
	assert.Empty(t, client.calls)
	content, err := os.ReadFile(responseFile)
	require.NoError(t, err)
	assert.Equal(t, "{\"done\":true}\n", string(content))
	assert.Equal(t, 1, manager.Tracker().NDownloadedBatches())
}

func TestManagerResumeMissingResponseFileFails(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()

	requestFile := filepath.Join(dir, "requests_0.jsonl")
	journal := NewJournal(DownloadedJournalPath(dir, client.KeySuffix()))
	require.NoError(t, journal.Append(newTestBatch("batch_prev", requestFile, schemas.BatchStatusCompleted, 2, 0, 2)))

	manager := newTestManager(t, client, dir)
	err := manager.SubmitBatchesFromRequestFiles(context.Background(), []string{requestFile},
		func(f string) ([][]byte, error) { return linesFor(f), nil })

	assert.ErrorIs(t, err, schemas.ErrResumeInconsistent)
}

func TestManagerResumeFromSubmittedJournal(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()

	requestFile := filepath.Join(dir, "requests_0.jsonl")
	inputID := "file_prev"
	client.files[inputID] = []byte("{}\n{}\n")
	prev := newTestBatch("batch_prev", requestFile, schemas.BatchStatusInProgress, 0, 0, 2)
	prev.InputFileID = inputID
	client.addBatch(prev)

	journal := NewJournal(SubmittedJournalPath(dir, client.KeySuffix()))
	require.NoError(t, journal.Append(prev))

	manager := newTestManager(t, client, dir)
	err := manager.SubmitBatchesFromRequestFiles(context.Background(), []string{requestFile},
		func(string) ([][]byte, error) { return nil, fmt.Errorf("must not be called") })
	require.NoError(t, err)

	assert.Zero(t, client.calls["FileUpload"])
	assert.Equal(t, 1, manager.Tracker().NSubmittedBatches())

	require.NoError(t, manager.PollAndProcess(context.Background(), rawResponseWriter))
	assert.Equal(t, 1, manager.Tracker().NDownloadedBatches())
	_, err = os.Stat(RequestToResponseFile(requestFile, dir))
	assert.NoError(t, err)
}

func TestManagerFailedBatchWithErrorFile(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	client.terminalStatus = schemas.BatchStatusFailed
	client.withErrorFile = true
	manager := newTestManager(t, client, dir)

	requestFile := filepath.Join(dir, "requests_0.jsonl")
	err := manager.SubmitBatchesFromRequestFiles(context.Background(), []string{requestFile},
		func(f string) ([][]byte, error) { return linesFor(f), nil })
	require.NoError(t, err)

	// The error file is transformed like an output file, so failed
	// requests still surface as records.
	require.NoError(t, manager.PollAndProcess(context.Background(), rawResponseWriter))
	content, err := os.ReadFile(RequestToResponseFile(requestFile, dir))
	require.NoError(t, err)
	assert.Contains(t, string(content), "custom_id")
}

func TestManagerCancelledBatchYieldsNoResponses(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	client.terminalStatus = schemas.BatchStatusCancelled
	manager := newTestManager(t, client, dir)

	requestFile := filepath.Join(dir, "requests_0.jsonl")
	err := manager.SubmitBatchesFromRequestFiles(context.Background(), []string{requestFile},
		func(f string) ([][]byte, error) { return linesFor(f), nil })
	require.NoError(t, err)

	err = manager.PollAndProcess(context.Background(), rawResponseWriter)
	assert.ErrorIs(t, err, schemas.ErrNoCompletedBatches)

	_, statErr := os.Stat(RequestToResponseFile(requestFile, dir))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 1, manager.Tracker().NDownloadedBatches())
}

func TestManagerCompletedBatchWithoutOutputFile(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	client.withoutOutputFile = true
	manager, err := NewManager(client, &ManagerConfig{
		WorkingDir:             dir,
		CheckInterval:          time.Millisecond,
		DeleteFailedBatchFiles: true,
	}, nopLogger{})
	require.NoError(t, err)

	requestFile := filepath.Join(dir, "requests_0.jsonl")
	require.NoError(t, manager.SubmitBatchesFromRequestFiles(context.Background(), []string{requestFile},
		func(f string) ([][]byte, error) { return linesFor(f), nil }))

	err = manager.PollAndProcess(context.Background(), rawResponseWriter)
	assert.ErrorIs(t, err, schemas.ErrNoCompletedBatches)

	// No response file, and the input file is left alone even with the
	// failed-file deletion policy on.
	_, statErr := os.Stat(RequestToResponseFile(requestFile, dir))
	assert.True(t, os.IsNotExist(statErr))
	assert.Zero(t, client.calls["FileDelete"])
	assert.Len(t, client.files, 1)
}

func TestManagerDeletesProviderFilesWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	manager, err := NewManager(client, &ManagerConfig{
		WorkingDir:                 dir,
		CheckInterval:              time.Millisecond,
		DeleteSuccessfulBatchFiles: true,
	}, nopLogger{})
	require.NoError(t, err)

	requestFile := filepath.Join(dir, "requests_0.jsonl")
	require.NoError(t, manager.SubmitBatchesFromRequestFiles(context.Background(), []string{requestFile},
		func(f string) ([][]byte, error) { return linesFor(f), nil }))
	require.NoError(t, manager.PollAndProcess(context.Background(), rawResponseWriter))

	// Input and output files of the completed batch are gone.
	assert.Equal(t, 2, client.calls["FileDelete"])
	assert.Empty(t, client.files)
}

func TestManagerCancelSubmittedBatches(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()

	running := newTestBatch("batch_running", "requests_0.jsonl", schemas.BatchStatusInProgress, 0, 0, 2)
	done := newTestBatch("batch_done", "requests_1.jsonl", schemas.BatchStatusCompleted, 2, 0, 2)
	client.addBatch(running)
	client.addBatch(done)
	// Keep the running batch in progress across the pre-cancel retrieve.
	client.pollsBeforeTerminal = 10

	journal := NewJournal(SubmittedJournalPath(dir, client.KeySuffix()))
	require.NoError(t, journal.Append(running))
	require.NoError(t, journal.Append(done))

	manager := newTestManager(t, client, dir)
	cancelled, failed, err := manager.CancelSubmittedBatches(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, cancelled)
	assert.Zero(t, failed)
	assert.Equal(t, 1, client.calls["BatchCancel"])
	assert.False(t, journal.Exists())
	_, statErr := os.Stat(journal.Path() + CancelledJournalSuffix)
	assert.NoError(t, statErr)
}

func TestManagerCancelWithoutJournal(t *testing.T) {
	manager := newTestManager(t, newFakeClient(), t.TempDir())
	cancelled, failed, err := manager.CancelSubmittedBatches(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cancelled)
	assert.Zero(t, failed)
}

func TestRequestResponseFilePairing(t *testing.T) {
	tests := []struct {
		name         string
		requestFile  string
		responseFile string
	}{
		{"plain index", "requests_0.jsonl", "responses_0.jsonl"},
		{"nested path", filepath.Join("work", "requests_17.jsonl"), "responses_17.jsonl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequestToResponseFile(tt.requestFile, "work")
			assert.Equal(t, filepath.Join("work", tt.responseFile), got)

			back := ResponseToRequestFile(got, "work")
			assert.Equal(t, filepath.Join("work", filepath.Base(tt.requestFile)), back)
		})
	}
}
