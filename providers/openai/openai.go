// Package openai implements the OpenAI provider client and the request and
// response transformers for the Batch API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	providerUtils "github.com/lumenlabs/batchline/providers/utils"
	"github.com/lumenlabs/batchline/schemas"
)

const (
	defaultBaseURL        = "https://api.openai.com"
	defaultRequestTimeout = 120 * time.Second

	// uploadGracePeriod is how long to wait before the first file status
	// check. A freshly uploaded file is sometimes not visible yet and
	// retrieving it too early returns a not-found error.
	uploadGracePeriod = 1 * time.Second

	// fileReadyPollInterval is the delay between file status checks while
	// waiting for an uploaded file to be processed.
	fileReadyPollInterval = 2 * time.Second
)

// Config holds the client configuration for the OpenAI provider.
type Config struct {
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
	ExtraHeaders   map[string]string
}

// CheckAndSetDefaults validates the config and fills unset fields.
func (c *Config) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return schemas.ErrMissingCredential
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// Client is a thin wrapper over the OpenAI Files and Batch APIs. Each method
// performs a single remote operation and surfaces API errors unchanged.
type Client struct {
	logger schemas.Logger
	client *fasthttp.Client
	config Config
}

// NewClient creates an OpenAI client from the given configuration.
func NewClient(config *Config, logger schemas.Logger) (*Client, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, err
	}

	client := &fasthttp.Client{
		ReadTimeout:         config.RequestTimeout,
		WriteTimeout:        config.RequestTimeout,
		MaxConnsPerHost:     5000,
		MaxIdleConnDuration: 30 * time.Second,
		MaxConnWaitTimeout:  10 * time.Second,
	}

	return &Client{
		logger: logger,
		client: client,
		config: *config,
	}, nil
}

// KeySuffix returns the last 4 characters of the API key. Journal files are
// suffixed with it so concurrent accounts can share a working directory.
func (c *Client) KeySuffix() string {
	key := c.config.APIKey
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

func (c *Client) setAuth(req *fasthttp.Request) {
	providerUtils.SetExtraHeaders(req, c.config.ExtraHeaders)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
}

// doJSON performs a request and decodes a 200 response body into out.
func (c *Client) doJSON(ctx context.Context, req *fasthttp.Request, out any) error {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if _, err := providerUtils.MakeRequestWithContext(ctx, c.client, req, resp); err != nil {
		return err
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return parseAPIError(resp)
	}

	body, err := providerUtils.CheckAndDecodeBody(resp)
	if err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal provider response: %w", err)
	}
	return nil
}

// FileUpload uploads content as a multipart form with purpose "batch".
func (c *Client) FileUpload(ctx context.Context, content []byte, filename string) (*schemas.File, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("file content is required")
	}
	if filename == "" {
		filename = "file.jsonl"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("purpose", string(schemas.FilePurposeBatch)); err != nil {
		return nil, fmt.Errorf("failed to write purpose field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.config.BaseURL + "/v1/files")
	req.Header.SetMethod(http.MethodPost)
	req.Header.SetContentType(writer.FormDataContentType())
	c.setAuth(req)
	req.SetBody(buf.Bytes())

	var fileResp fileResponse
	if err := c.doJSON(ctx, req, &fileResp); err != nil {
		return nil, err
	}

	c.logger.Debug(fmt.Sprintf("uploaded file %s (%d bytes)", fileResp.ID, fileResp.Bytes))
	return fileResp.toFile(), nil
}

// FileRetrieve fetches the current file object by id.
func (c *Client) FileRetrieve(ctx context.Context, fileID string) (*schemas.File, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.config.BaseURL + "/v1/files/" + fileID)
	req.Header.SetMethod(http.MethodGet)
	c.setAuth(req)

	var fileResp fileResponse
	if err := c.doJSON(ctx, req, &fileResp); err != nil {
		return nil, err
	}
	return fileResp.toFile(), nil
}

// WaitForFileReady blocks until the uploaded file reaches a ready state.
// It waits a short grace period before the first check, then polls.
func (c *Client) WaitForFileReady(ctx context.Context, fileID string) (*schemas.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(uploadGracePeriod):
	}

	for {
		file, err := c.FileRetrieve(ctx, fileID)
		if err != nil {
			return nil, err
		}
		if file.Status.Ready() {
			return file, nil
		}
		if file.Status == schemas.FileStatusError {
			return nil, fmt.Errorf("file %s failed provider-side processing", fileID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fileReadyPollInterval):
		}
	}
}

// FileContent downloads the raw bytes of a file by id.
func (c *Client) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + "/v1/files/" + fileID + "/content")
	req.Header.SetMethod(http.MethodGet)
	c.setAuth(req)

	if _, err := providerUtils.MakeRequestWithContext(ctx, c.client, req, resp); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, parseAPIError(resp)
	}

	body, err := providerUtils.CheckAndDecodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode file content: %w", err)
	}

	// The response body is reused once resp is released.
	content := make([]byte, len(body))
	copy(content, body)
	return content, nil
}

// FileDelete deletes a file by id and reports whether the provider
// acknowledged the deletion.
func (c *Client) FileDelete(ctx context.Context, fileID string) (bool, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.config.BaseURL + "/v1/files/" + fileID)
	req.Header.SetMethod(http.MethodDelete)
	c.setAuth(req)

	var deleteResp fileDeleteResponse
	if err := c.doJSON(ctx, req, &deleteResp); err != nil {
		return false, err
	}
	return deleteResp.Deleted, nil
}

// BatchCreate creates a batch over a previously uploaded input file. The
// endpoint is always /v1/chat/completions with a 24h completion window.
func (c *Client) BatchCreate(ctx context.Context, inputFileID string, metadata map[string]string) (*schemas.Batch, error) {
	if inputFileID == "" {
		return nil, fmt.Errorf("input file id is required")
	}

	body := &batchCreateRequest{
		InputFileID:      inputFileID,
		Endpoint:         "/v1/chat/completions",
		CompletionWindow: "24h",
		Metadata:         metadata,
	}
	jsonData, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch create request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.config.BaseURL + "/v1/batches")
	req.Header.SetMethod(http.MethodPost)
	req.Header.SetContentType("application/json")
	c.setAuth(req)
	req.SetBody(jsonData)

	var batchResp batchResponse
	if err := c.doJSON(ctx, req, &batchResp); err != nil {
		return nil, err
	}

	c.logger.Debug(fmt.Sprintf("batch submitted with id %s", batchResp.ID))
	return batchResp.toBatch(), nil
}

// BatchRetrieve fetches the current batch object by id.
func (c *Client) BatchRetrieve(ctx context.Context, batchID string) (*schemas.Batch, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.config.BaseURL + "/v1/batches/" + batchID)
	req.Header.SetMethod(http.MethodGet)
	c.setAuth(req)

	var batchResp batchResponse
	if err := c.doJSON(ctx, req, &batchResp); err != nil {
		return nil, err
	}
	return batchResp.toBatch(), nil
}

// BatchCancel asks the provider to cancel a batch by id.
func (c *Client) BatchCancel(ctx context.Context, batchID string) (*schemas.Batch, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.config.BaseURL + "/v1/batches/" + batchID + "/cancel")
	req.Header.SetMethod(http.MethodPost)
	c.setAuth(req)

	var batchResp batchResponse
	if err := c.doJSON(ctx, req, &batchResp); err != nil {
		return nil, err
	}
	return batchResp.toBatch(), nil
}
