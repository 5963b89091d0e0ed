package schemas

import "encoding/json"

// ChatMessage is one entry of a chat completion conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenericRequest is the provider-agnostic request record. One GenericRequest
// corresponds to one line of a request file and is immutable once written.
//
// OriginalRowIdx is the stable identifier that is echoed back by the provider
// as the batch custom_id; it must be unique within a working directory.
type GenericRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
	OriginalRowIdx int64           `json:"original_row_idx"`
}
