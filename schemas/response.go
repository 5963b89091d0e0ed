package schemas

import (
	"encoding/json"
	"time"
)

// TokenUsage holds the token counts reported by the provider for one request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenericResponse is the uniform response record produced 1:1 per
// GenericRequest upon download. A non-empty ResponseErrors marks the record
// as a failure. Provider-side failures carry no TokenUsage or ResponseCost;
// records that reached the model but failed response-format validation keep
// both alongside the errors.
//
// ResponseMessage holds either the structured object parsed against the
// request's response format, or the raw content as a JSON string when no
// response format was supplied.
type GenericResponse struct {
	GenericRequest  *GenericRequest `json:"generic_request"`
	ResponseMessage json.RawMessage `json:"response_message,omitempty"`
	ResponseErrors  []string        `json:"response_errors,omitempty"`
	RawRequest      json.RawMessage `json:"raw_request,omitempty"`
	RawResponse     json.RawMessage `json:"raw_response,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	TokenUsage      *TokenUsage     `json:"token_usage,omitempty"`
	ResponseCost    *float64        `json:"response_cost,omitempty"`
}

// Failed reports whether the record represents a failed request.
func (r *GenericResponse) Failed() bool {
	return len(r.ResponseErrors) > 0
}
