package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchStatusPredicates(t *testing.T) {
	tests := []struct {
		status     BatchStatus
		finished   bool
		inProgress bool
	}{
		{BatchStatusValidating, false, true},
		{BatchStatusInProgress, false, true},
		{BatchStatusFinalizing, false, true},
		{BatchStatusCancelling, false, true},
		{BatchStatusCompleted, true, false},
		{BatchStatusFailed, true, false},
		{BatchStatusExpired, true, false},
		{BatchStatusCancelled, true, false},
		// Unknown statuses are neither, so pollers keep waiting.
		{BatchStatus("paused"), false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.finished, tt.status.Finished())
			assert.Equal(t, tt.inProgress, tt.status.InProgress())
		})
	}
}

func TestBatchRequestCountsFinished(t *testing.T) {
	counts := BatchRequestCounts{Total: 10, Completed: 7, Failed: 2}
	assert.Equal(t, 9, counts.Finished())
}

func TestBatchRequestFileName(t *testing.T) {
	batch := &Batch{Metadata: map[string]string{MetadataRequestFileName: "requests_0.jsonl"}}
	assert.Equal(t, "requests_0.jsonl", batch.RequestFileName())

	assert.Empty(t, (&Batch{}).RequestFileName())
}

func TestFileStatusReady(t *testing.T) {
	assert.True(t, FileStatusProcessed.Ready())
	assert.False(t, FileStatusProcessing.Ready())
	assert.False(t, FileStatusError.Ready())
}
