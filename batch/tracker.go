// Package batch implements the batch orchestration engine: status tracking,
// on-disk journals, submission, polling, download and cancellation.
package batch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lumenlabs/batchline/schemas"
)

// StatusTracker is the in-memory bookkeeping of request files and batch ids
// across the lifecycle buckets. A request file is always in exactly one of
// unsubmitted / submitted / finished / downloaded; a batch id in exactly one
// of submitted / finished / downloaded. All methods are safe for concurrent
// use.
type StatusTracker struct {
	mu sync.Mutex

	unsubmittedRequestFiles map[string]struct{}

	submittedBatchIDs  map[string]struct{}
	finishedBatchIDs   map[string]struct{}
	downloadedBatchIDs map[string]struct{}

	batchIDToRequestFile map[string]string

	nTotalBatches       int
	nTotalRequests      int
	nFinishedRequests   int
	nDownloadedRequests int
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		unsubmittedRequestFiles: make(map[string]struct{}),
		submittedBatchIDs:       make(map[string]struct{}),
		finishedBatchIDs:        make(map[string]struct{}),
		downloadedBatchIDs:      make(map[string]struct{}),
		batchIDToRequestFile:    make(map[string]string),
	}
}

// SeedUnsubmitted registers the run's request files as unsubmitted.
func (t *StatusTracker) SeedUnsubmitted(requestFiles []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range requestFiles {
		t.unsubmittedRequestFiles[f] = struct{}{}
	}
}

// IsUnsubmitted reports whether the request file has not been submitted yet.
func (t *StatusTracker) IsUnsubmitted(requestFile string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.unsubmittedRequestFiles[requestFile]
	return ok
}

// UnsubmittedRequestFiles returns a snapshot of the unsubmitted set.
func (t *StatusTracker) UnsubmittedRequestFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	files := make([]string, 0, len(t.unsubmittedRequestFiles))
	for f := range t.unsubmittedRequestFiles {
		files = append(files, f)
	}
	return files
}

// SubmittedBatchIDs returns a snapshot of the submitted set.
func (t *StatusTracker) SubmittedBatchIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.submittedBatchIDs))
	for id := range t.submittedBatchIDs {
		ids = append(ids, id)
	}
	return ids
}

// MarkAsSubmitted moves a request file out of the unsubmitted set and
// registers its batch as submitted. The file must currently be unsubmitted.
func (t *StatusTracker) MarkAsSubmitted(requestFile string, batch *schemas.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.unsubmittedRequestFiles[requestFile]; !ok {
		return fmt.Errorf("request file %s is not in the unsubmitted set", requestFile)
	}
	delete(t.unsubmittedRequestFiles, requestFile)
	t.submittedBatchIDs[batch.ID] = struct{}{}
	t.batchIDToRequestFile[batch.ID] = requestFile
	t.nTotalBatches++
	t.nTotalRequests += batch.RequestCounts.Total
	return nil
}

// MarkAsFinished moves a submitted batch into the finished set and adds its
// finished request count. Idempotent on batches already finished or
// downloaded.
func (t *StatusTracker) MarkAsFinished(batch *schemas.Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.submittedBatchIDs[batch.ID]; !ok {
		return
	}
	delete(t.submittedBatchIDs, batch.ID)
	t.finishedBatchIDs[batch.ID] = struct{}{}
	t.nFinishedRequests += batch.RequestCounts.Finished()
}

// MarkAsDownloaded moves a finished batch into the downloaded set, shifting
// its request count from finished to downloaded. Idempotent.
func (t *StatusTracker) MarkAsDownloaded(batch *schemas.Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.finishedBatchIDs[batch.ID]; !ok {
		return
	}
	delete(t.finishedBatchIDs, batch.ID)
	t.downloadedBatchIDs[batch.ID] = struct{}{}
	n := batch.RequestCounts.Finished()
	t.nFinishedRequests -= n
	t.nDownloadedRequests += n
}

// Counts of files and batches per bucket.
func (t *StatusTracker) NUnsubmittedRequestFiles() int { return t.setLen(&t.unsubmittedRequestFiles) }
func (t *StatusTracker) NSubmittedBatches() int        { return t.setLen(&t.submittedBatchIDs) }
func (t *StatusTracker) NFinishedBatches() int         { return t.setLen(&t.finishedBatchIDs) }
func (t *StatusTracker) NDownloadedBatches() int       { return t.setLen(&t.downloadedBatchIDs) }

func (t *StatusTracker) setLen(set *map[string]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(*set)
}

// Progress is a read-only projection of the tracker for reporting layers.
type Progress struct {
	TotalBatches      int
	SubmittedBatches  int
	FinishedBatches   int
	DownloadedBatches int

	TotalRequests      int
	FinishedRequests   int
	DownloadedRequests int
}

// Progress returns a consistent snapshot of the counters.
func (t *StatusTracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Progress{
		TotalBatches:       t.nTotalBatches,
		SubmittedBatches:   len(t.submittedBatchIDs),
		FinishedBatches:    len(t.finishedBatchIDs),
		DownloadedBatches:  len(t.downloadedBatchIDs),
		TotalRequests:      t.nTotalRequests,
		FinishedRequests:   t.nFinishedRequests,
		DownloadedRequests: t.nDownloadedRequests,
	}
}

// String renders a human-readable status summary derived from the counters.
func (t *StatusTracker) String() string {
	p := t.Progress()
	lines := []string{
		fmt.Sprintf("Total batches: %d", p.TotalBatches),
		fmt.Sprintf("Submitted batches: %d", p.SubmittedBatches),
		fmt.Sprintf("Finished batches: %d", p.FinishedBatches),
		fmt.Sprintf("Downloaded batches: %d", p.DownloadedBatches),
		"",
		fmt.Sprintf("Total requests: %d", p.TotalRequests),
		fmt.Sprintf("Finished requests: %d", p.FinishedRequests),
		fmt.Sprintf("Downloaded requests: %d", p.DownloadedRequests),
	}
	return strings.Join(lines, "\n")
}
