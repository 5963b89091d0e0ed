package openai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/lumenlabs/batchline/pricing"
	"github.com/lumenlabs/batchline/schemas"
)

// ParseFunc is the caller-supplied response-format parser. It receives the
// raw content of choices[0].message and returns either the parsed structured
// message or a list of parse errors. Exactly one of the two is non-empty.
type ParseFunc func(content string) (json.RawMessage, []string)

// formatCustomID encodes a row index as the provider custom_id.
func formatCustomID(rowIdx int64) string {
	return strconv.FormatInt(rowIdx, 10)
}

// parseCustomID decodes a provider custom_id back to the row index.
func parseCustomID(customID string) (int64, error) {
	return strconv.ParseInt(customID, 10, 64)
}

// providerLine is one line of a downloaded output or error file.
type providerLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
				TotalTokens      int `json:"total_tokens"`
			} `json:"usage"`
		} `json:"body"`
	} `json:"response"`
}

// ResponseTransformer converts downloaded provider lines into uniform
// response records with token usage and cost.
type ResponseTransformer struct {
	oracle   pricing.Oracle
	discount float64
	parse    ParseFunc
	logger   schemas.Logger
}

// NewResponseTransformer builds a transformer. discount scales the oracle's
// unit cost; the Batch API bills at half the interactive rate, so callers
// normally pass 0.5. A nil parse func leaves content as a raw string.
func NewResponseTransformer(oracle pricing.Oracle, discount float64, parse ParseFunc, logger schemas.Logger) *ResponseTransformer {
	return &ResponseTransformer{
		oracle:   oracle,
		discount: discount,
		parse:    parse,
		logger:   logger,
	}
}

// ReadRequestFile reads one GenericRequest per line from a request file.
func ReadRequestFile(path string) ([]*schemas.GenericRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open request file %s: %w", path, err)
	}
	defer f.Close()

	var requests []*schemas.GenericRequest
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var request schemas.GenericRequest
		if err := sonic.Unmarshal(line, &request); err != nil {
			return nil, fmt.Errorf("failed to parse request line in %s: %w", path, err)
		}
		requests = append(requests, &request)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read request file %s: %w", path, err)
	}
	return requests, nil
}

// WriteResponseFile maps every provider line of a downloaded batch back to
// its originating request and writes one GenericResponse per line to
// responseFile. Per-record failures are recorded in the response, never
// returned as errors.
func (t *ResponseTransformer) WriteResponseFile(content []byte, batch *schemas.Batch, responseFile string) error {
	requestFile := batch.RequestFileName()
	requests, err := ReadRequestFile(requestFile)
	if err != nil {
		return err
	}
	requestMap := make(map[int64]*schemas.GenericRequest, len(requests))
	for _, request := range requests {
		requestMap[request.OriginalRowIdx] = request
	}

	f, err := os.Create(responseFile)
	if err != nil {
		return fmt.Errorf("failed to create response file %s: %w", responseFile, err)
	}
	defer f.Close()

	writer := bufio.NewWriter(f)
	createdAt := time.Unix(batch.CreatedAt, 0)
	for _, raw := range SplitJSONL(content) {
		response := t.transformLine(raw, requestMap, createdAt)
		line, err := sonic.Marshal(response)
		if err != nil {
			return fmt.Errorf("failed to marshal response record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("failed to write response file %s: %w", responseFile, err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write response file %s: %w", responseFile, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush response file %s: %w", responseFile, err)
	}
	return nil
}

// transformLine converts a single provider line into a GenericResponse.
// Malformed lines and non-200 statuses become failure records.
func (t *ResponseTransformer) transformLine(raw []byte, requests map[int64]*schemas.GenericRequest, createdAt time.Time) *schemas.GenericResponse {
	// Invalid JSON would poison the response record on re-marshal, so
	// non-JSON lines are carried as a quoted string instead.
	rawCopy := make(json.RawMessage, len(raw))
	copy(rawCopy, raw)
	if !json.Valid(rawCopy) {
		rawCopy, _ = sonic.Marshal(string(raw))
	}

	response := &schemas.GenericResponse{
		RawResponse: rawCopy,
		CreatedAt:   createdAt,
		FinishedAt:  time.Now(),
	}

	var line providerLine
	if err := sonic.Unmarshal(raw, &line); err != nil {
		response.ResponseErrors = []string{fmt.Sprintf("failed to parse provider response line: %v", err)}
		return response
	}

	rowIdx, err := parseCustomID(line.CustomID)
	if err != nil {
		response.ResponseErrors = []string{fmt.Sprintf("malformed custom_id %q: %v", line.CustomID, err)}
		return response
	}

	request, ok := requests[rowIdx]
	if !ok {
		response.ResponseErrors = []string{fmt.Sprintf("custom_id %d not found in request file", rowIdx)}
		return response
	}
	response.GenericRequest = request

	if line.Response.StatusCode != 200 {
		msg := fmt.Sprintf("request %d failed with status code %d", rowIdx, line.Response.StatusCode)
		t.logger.Warn(msg)
		response.ResponseErrors = []string{msg}
		return response
	}

	if len(line.Response.Body.Choices) == 0 {
		response.ResponseErrors = []string{fmt.Sprintf("request %d returned no choices", rowIdx)}
		return response
	}
	content := line.Response.Body.Choices[0].Message.Content

	usage := line.Response.Body.Usage
	response.TokenUsage = &schemas.TokenUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}

	prompt, _ := sonic.MarshalString(request.Messages)
	cost := t.discount * t.oracle.Cost(request.Model, prompt, content)
	response.ResponseCost = &cost

	if t.parse != nil {
		message, parseErrors := t.parse(content)
		if len(parseErrors) > 0 {
			response.ResponseErrors = parseErrors
			return response
		}
		response.ResponseMessage = message
		return response
	}

	rawContent, err := sonic.Marshal(content)
	if err != nil {
		response.ResponseErrors = []string{fmt.Sprintf("failed to encode response content: %v", err)}
		return response
	}
	response.ResponseMessage = rawContent
	return response
}
