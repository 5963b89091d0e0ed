package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumenlabs/batchline/schemas"
)

func TestSplitJSONL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single line no newline", `{"a":1}`, []string{`{"a":1}`}},
		{"trailing newline", "{\"a\":1}\n{\"b\":2}\n", []string{`{"a":1}`, `{"b":2}`}},
		{"crlf line endings", "{\"a\":1}\r\n{\"b\":2}\r\n", []string{`{"a":1}`, `{"b":2}`}},
		{"blank lines skipped", "{\"a\":1}\n\n{\"b\":2}", []string{`{"a":1}`, `{"b":2}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, line := range SplitJSONL([]byte(tt.input)) {
				got = append(got, string(line))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBatchStatus(t *testing.T) {
	assert.Equal(t, schemas.BatchStatusCompleted, toBatchStatus("completed"))
	assert.Equal(t, schemas.BatchStatusCancelling, toBatchStatus("cancelling"))

	// Unknown statuses pass through so the poller can treat them as
	// still in progress.
	unknown := toBatchStatus("paused")
	assert.False(t, unknown.Finished())
	assert.False(t, unknown.InProgress())
}

func TestToFileStatus(t *testing.T) {
	assert.Equal(t, schemas.FileStatusProcessed, toFileStatus("processed"))
	assert.Equal(t, schemas.FileStatusError, toFileStatus("error"))
}
