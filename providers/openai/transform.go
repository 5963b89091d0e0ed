package openai

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/lumenlabs/batchline/schemas"
)

// GenerationParams are the optional sampling parameters applied to every
// request in a run. A nil field is omitted from the payload entirely, never
// sent as null.
type GenerationParams struct {
	Temperature      *float64
	TopP             *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64
}

// BatchLine is one line of an uploaded batch input file.
type BatchLine struct {
	CustomID string    `json:"custom_id"`
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Body     batchBody `json:"body"`
}

type batchBody struct {
	Model            string                  `json:"model"`
	Messages         []schemas.ChatMessage   `json:"messages"`
	ResponseFormat   *responseFormatEnvelope `json:"response_format,omitempty"`
	Temperature      *float64                `json:"temperature,omitempty"`
	TopP             *float64                `json:"top_p,omitempty"`
	PresencePenalty  *float64                `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64                `json:"frequency_penalty,omitempty"`
}

// responseFormatEnvelope wraps a caller-supplied JSON schema the way the
// chat completions API expects it. strict is intentionally not set.
type responseFormatEnvelope struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// BuildBatchLine converts a generic request into the provider-specific line
// body. The schema blob stays opaque; validation is the caller's concern.
func BuildBatchLine(request *schemas.GenericRequest, params GenerationParams) BatchLine {
	body := batchBody{
		Model:            request.Model,
		Messages:         request.Messages,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
	}

	if len(request.ResponseFormat) > 0 {
		body.ResponseFormat = &responseFormatEnvelope{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   "output_schema",
				Schema: request.ResponseFormat,
			},
		}
	}

	return BatchLine{
		CustomID: formatCustomID(request.OriginalRowIdx),
		Method:   "POST",
		URL:      "/v1/chat/completions",
		Body:     body,
	}
}

// MarshalBatchLine serializes one batch line for upload.
func MarshalBatchLine(request *schemas.GenericRequest, params GenerationParams) ([]byte, error) {
	return sonic.Marshal(BuildBatchLine(request, params))
}
