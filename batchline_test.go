package batchline

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlabs/batchline/batch"
	"github.com/lumenlabs/batchline/schemas"
)

func TestMaxTokensPerDay(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected int64
	}{
		{
			name:     "known model uses table entry",
			model:    "gpt-4o",
			expected: 10_000_000_000,
		},
		{
			name:     "instruct model uses low limit",
			model:    "gpt-3.5-turbo-instruct",
			expected: 200_000,
		},
		{
			name:     "unknown model falls back to default",
			model:    "some-future-model",
			expected: 1_000_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orchestrator, err := New(&Config{
				Model:  tt.model,
				APIKey: "sk-test-ab12",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, orchestrator.MaxTokensPerDay())
		})
	}
}

// cancelFakeClient implements batch.ProviderClient with just enough
// behaviour for the cancellation path: retrieving reports the batch as
// still in progress, cancelling succeeds.
type cancelFakeClient struct {
	batches map[string]*schemas.Batch
	cancels int
}

func (c *cancelFakeClient) KeySuffix() string { return "ab12" }

func (c *cancelFakeClient) FileUpload(context.Context, []byte, string) (*schemas.File, error) {
	return nil, nil
}

func (c *cancelFakeClient) WaitForFileReady(context.Context, string) (*schemas.File, error) {
	return nil, nil
}

func (c *cancelFakeClient) FileContent(context.Context, string) ([]byte, error) {
	return nil, nil
}

func (c *cancelFakeClient) FileDelete(context.Context, string) (bool, error) {
	return false, nil
}

func (c *cancelFakeClient) BatchCreate(context.Context, string, map[string]string) (*schemas.Batch, error) {
	return nil, nil
}

func (c *cancelFakeClient) BatchRetrieve(_ context.Context, batchID string) (*schemas.Batch, error) {
	return c.batches[batchID], nil
}

func (c *cancelFakeClient) BatchCancel(_ context.Context, batchID string) (*schemas.Batch, error) {
	c.cancels++
	b := c.batches[batchID]
	b.Status = schemas.BatchStatusCancelled
	return b, nil
}

func TestCancelExitsWithCodeOne(t *testing.T) {
	dir := t.TempDir()

	client := &cancelFakeClient{batches: map[string]*schemas.Batch{
		"batch_1": {
			ID:          "batch_1",
			InputFileID: "file_1",
			Status:      schemas.BatchStatusInProgress,
			Metadata:    map[string]string{schemas.MetadataRequestFileName: "requests_0.jsonl"},
		},
	}}

	journalPath := batch.SubmittedJournalPath(dir, client.KeySuffix())
	require.NoError(t, batch.NewJournal(journalPath).Append(client.batches["batch_1"]))

	orchestrator, err := New(&Config{Model: "gpt-4o", APIKey: "sk-test-ab12"})
	require.NoError(t, err)
	orchestrator.client = client

	exitCode := -1
	originalExit := osExit
	osExit = func(code int) { exitCode = code }
	defer func() { osExit = originalExit }()

	require.NoError(t, orchestrator.Cancel(context.Background(), dir))

	assert.Equal(t, 1, exitCode)
	assert.Equal(t, 1, client.cancels)

	// The submitted journal is renamed so a later run cannot resume it.
	_, statErr := os.Stat(journalPath)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(journalPath + batch.CancelledJournalSuffix)
	assert.NoError(t, statErr)
}
