package openai

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx response from the OpenAI API, surfaced unchanged to
// the caller; the batch manager decides policy.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Param      *string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai: request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("openai: %s (status %d)", e.Message, e.StatusCode)
}

type openAIErrorResponse struct {
	Error struct {
		Type    string  `json:"type"`
		Code    string  `json:"code"`
		Message string  `json:"message"`
		Param   *string `json:"param"`
	} `json:"error"`
}

// parseAPIError builds an APIError from an error response body. Bodies that
// are not the documented error envelope are carried verbatim in Message.
func parseAPIError(resp *fasthttp.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode()}

	var errorResp openAIErrorResponse
	if err := sonic.Unmarshal(resp.Body(), &errorResp); err != nil {
		apiErr.Message = string(resp.Body())
		return apiErr
	}

	apiErr.Type = errorResp.Error.Type
	apiErr.Code = errorResp.Error.Code
	apiErr.Message = errorResp.Error.Message
	apiErr.Param = errorResp.Error.Param
	return apiErr
}
