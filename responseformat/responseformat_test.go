package responseformat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const answerSchema = `{
	"type": "object",
	"properties": {
		"answer": {"type": "string"},
		"confidence": {"type": "number"}
	},
	"required": ["answer"]
}`

func TestSchemaParserValidContent(t *testing.T) {
	parse, err := NewSchemaParser(json.RawMessage(answerSchema))
	require.NoError(t, err)

	message, parseErrors := parse(`{"answer":"seven","confidence":0.9}`)
	assert.Empty(t, parseErrors)
	assert.JSONEq(t, `{"answer":"seven","confidence":0.9}`, string(message))
}

func TestSchemaParserRejectsInvalidContent(t *testing.T) {
	parse, err := NewSchemaParser(json.RawMessage(answerSchema))
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
	}{
		{"missing required field", `{"confidence":0.9}`},
		{"wrong type", `{"answer":7}`},
		{"not json", `the answer is seven`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message, parseErrors := parse(tt.content)
			assert.Nil(t, message)
			assert.NotEmpty(t, parseErrors)
		})
	}
}

func TestSchemaParserInvalidSchema(t *testing.T) {
	_, err := NewSchemaParser(json.RawMessage(`{"type": 42}`))
	assert.Error(t, err)
}
