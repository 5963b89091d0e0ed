package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlabs/batchline/schemas"
)

func newTestBatch(id, requestFile string, status schemas.BatchStatus, completed, failed, total int) *schemas.Batch {
	return &schemas.Batch{
		ID:     id,
		Status: status,
		RequestCounts: schemas.BatchRequestCounts{
			Total:     total,
			Completed: completed,
			Failed:    failed,
		},
		Metadata: map[string]string{
			schemas.MetadataRequestFileName: requestFile,
		},
	}
}

func TestStatusTrackerLifecycle(t *testing.T) {
	tracker := NewStatusTracker()
	tracker.SeedUnsubmitted([]string{"requests_0.jsonl", "requests_1.jsonl"})

	assert.Equal(t, 2, tracker.NUnsubmittedRequestFiles())
	assert.True(t, tracker.IsUnsubmitted("requests_0.jsonl"))

	b0 := newTestBatch("batch_0", "requests_0.jsonl", schemas.BatchStatusValidating, 0, 0, 100)
	require.NoError(t, tracker.MarkAsSubmitted("requests_0.jsonl", b0))

	assert.Equal(t, 1, tracker.NUnsubmittedRequestFiles())
	assert.Equal(t, 1, tracker.NSubmittedBatches())
	assert.False(t, tracker.IsUnsubmitted("requests_0.jsonl"))

	progress := tracker.Progress()
	assert.Equal(t, 1, progress.TotalBatches)
	assert.Equal(t, 100, progress.TotalRequests)
	assert.Equal(t, 0, progress.FinishedRequests)

	b0done := newTestBatch("batch_0", "requests_0.jsonl", schemas.BatchStatusCompleted, 98, 2, 100)
	tracker.MarkAsFinished(b0done)

	assert.Equal(t, 0, tracker.NSubmittedBatches())
	assert.Equal(t, 1, tracker.NFinishedBatches())
	assert.Equal(t, 100, tracker.Progress().FinishedRequests)

	tracker.MarkAsDownloaded(b0done)

	progress = tracker.Progress()
	assert.Equal(t, 0, tracker.NFinishedBatches())
	assert.Equal(t, 1, tracker.NDownloadedBatches())
	assert.Equal(t, 0, progress.FinishedRequests)
	assert.Equal(t, 100, progress.DownloadedRequests)
}

func TestStatusTrackerSetsAreDisjoint(t *testing.T) {
	tracker := NewStatusTracker()
	tracker.SeedUnsubmitted([]string{"requests_0.jsonl"})

	b := newTestBatch("batch_0", "requests_0.jsonl", schemas.BatchStatusInProgress, 0, 0, 10)
	require.NoError(t, tracker.MarkAsSubmitted("requests_0.jsonl", b))
	tracker.MarkAsFinished(b)
	tracker.MarkAsDownloaded(b)

	// Every batch lives in exactly one bucket at a time.
	total := tracker.NSubmittedBatches() + tracker.NFinishedBatches() + tracker.NDownloadedBatches()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, tracker.NDownloadedBatches())
}

func TestStatusTrackerMarkAsSubmittedUnknownFile(t *testing.T) {
	tracker := NewStatusTracker()
	b := newTestBatch("batch_0", "requests_0.jsonl", schemas.BatchStatusValidating, 0, 0, 10)

	err := tracker.MarkAsSubmitted("requests_0.jsonl", b)
	assert.Error(t, err)
}

func TestStatusTrackerTransitionsAreIdempotent(t *testing.T) {
	tracker := NewStatusTracker()
	tracker.SeedUnsubmitted([]string{"requests_0.jsonl"})

	b := newTestBatch("batch_0", "requests_0.jsonl", schemas.BatchStatusCompleted, 10, 0, 10)
	require.NoError(t, tracker.MarkAsSubmitted("requests_0.jsonl", b))

	tracker.MarkAsFinished(b)
	tracker.MarkAsFinished(b)
	assert.Equal(t, 10, tracker.Progress().FinishedRequests)

	tracker.MarkAsDownloaded(b)
	tracker.MarkAsDownloaded(b)
	progress := tracker.Progress()
	assert.Equal(t, 0, progress.FinishedRequests)
	assert.Equal(t, 10, progress.DownloadedRequests)
	assert.Equal(t, 1, tracker.NDownloadedBatches())
}

func TestStatusTrackerProgressIsMonotonic(t *testing.T) {
	tracker := NewStatusTracker()
	files := []string{"requests_0.jsonl", "requests_1.jsonl", "requests_2.jsonl"}
	tracker.SeedUnsubmitted(files)

	var lastFinished int
	for i, file := range files {
		b := newTestBatch("batch_"+file, file, schemas.BatchStatusCompleted, 5, 0, 5)
		require.NoError(t, tracker.MarkAsSubmitted(file, b))
		tracker.MarkAsFinished(b)
		tracker.MarkAsDownloaded(b)

		progress := tracker.Progress()
		done := progress.FinishedRequests + progress.DownloadedRequests
		assert.GreaterOrEqual(t, done, lastFinished)
		assert.Equal(t, (i+1)*5, done)
		lastFinished = done
	}
}

func TestStatusTrackerString(t *testing.T) {
	tracker := NewStatusTracker()
	tracker.SeedUnsubmitted([]string{"requests_0.jsonl"})

	b := newTestBatch("batch_0", "requests_0.jsonl", schemas.BatchStatusInProgress, 0, 0, 3)
	require.NoError(t, tracker.MarkAsSubmitted("requests_0.jsonl", b))

	summary := tracker.String()
	assert.Contains(t, summary, "Submitted batches: 1")
	assert.Contains(t, summary, "Total requests: 3")
}
