// Package batchline orchestrates large request workloads over a provider
// batch API: it packs generic requests into batch files, submits them with
// bounded concurrency, polls until every batch reaches a terminal status,
// and transforms downloaded results into a uniform response dataset. All
// progress is journaled on disk so interrupted runs resume without
// resubmitting finished work.
package batchline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lumenlabs/batchline/batch"
	"github.com/lumenlabs/batchline/pricing"
	"github.com/lumenlabs/batchline/providers/openai"
	"github.com/lumenlabs/batchline/responseformat"
	"github.com/lumenlabs/batchline/schemas"
)

const (
	// DefaultBatchSize is the number of requests per batch file when the
	// config leaves it unset.
	DefaultBatchSize = 1_000

	// DefaultBatchDiscount is the cost multiplier applied to batched
	// requests relative to the interactive unit price.
	DefaultBatchDiscount = 0.5
)

// defaultMaxTokensPerDay is the rate limit assumed for models missing from
// the per-model table.
const defaultMaxTokensPerDay = 1_000_000_000

var modelMaxTokensPerDay = map[string]int64{
	"gpt-3.5-turbo":               5_000_000_000,
	"gpt-3.5-turbo-0125":          5_000_000_000,
	"gpt-3.5-turbo-1106":          5_000_000_000,
	"gpt-3.5-turbo-16k":           5_000_000_000,
	"gpt-3.5-turbo-instruct":      200_000,
	"gpt-3.5-turbo-instruct-0914": 200_000,
	"gpt-4":                       150_000_000,
	"gpt-4-0613":                  150_000_000,
	"gpt-4-turbo":                 300_000_000,
	"gpt-4o":                      10_000_000_000,
	"gpt-4o-mini":                 15_000_000_000,
}

// Config configures an Orchestrator.
type Config struct {
	// Model is the provider model every request targets.
	Model string

	// APIKey and BaseURL configure the provider client. An empty BaseURL
	// uses the provider default.
	APIKey  string
	BaseURL string

	// BatchSize caps requests per batch file. Must not exceed the
	// provider's per-batch request limit.
	BatchSize int

	CheckInterval           time.Duration
	MaxConcurrentOperations int

	DeleteSuccessfulBatchFiles bool
	DeleteFailedBatchFiles     bool

	// Generation parameters, included in request bodies only when set.
	Temperature      *float64
	TopP             *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64

	// BatchDiscount scales the interactive unit cost for batched requests.
	BatchDiscount float64

	// CostOracle prices completions. Defaults to the static rate table.
	CostOracle pricing.Oracle

	Logger schemas.Logger
}

// CheckAndSetDefaults validates the config and fills unset fields.
func (c *Config) CheckAndSetDefaults() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize < 0 || c.BatchSize > batch.MaxRequestsPerBatch {
		return fmt.Errorf("batch size %d must be between 1 and %d", c.BatchSize, batch.MaxRequestsPerBatch)
	}
	if c.BatchDiscount == 0 {
		c.BatchDiscount = DefaultBatchDiscount
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger(schemas.LogLevelInfo)
	}
	if c.CostOracle == nil {
		c.CostOracle = pricing.NewTable(c.Logger)
	}
	return nil
}

// Orchestrator is the top-level entry point: Run drives a dataset through
// the batch lifecycle, Cancel aborts the batches of a working directory.
type Orchestrator struct {
	config Config
	client batch.ProviderClient
	logger schemas.Logger
}

// New creates an Orchestrator from the given config.
func New(config *Config) (*Orchestrator, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, err
	}

	client, err := openai.NewClient(&openai.Config{
		APIKey:  config.APIKey,
		BaseURL: config.BaseURL,
	}, config.Logger)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		config: *config,
		client: client,
		logger: config.Logger,
	}, nil
}

// MaxTokensPerDay returns the daily token budget for the configured model,
// falling back to a conservative default for unknown models.
func (o *Orchestrator) MaxTokensPerDay() int64 {
	tpd, ok := modelMaxTokensPerDay[o.config.Model]
	if !ok {
		tpd = defaultMaxTokensPerDay
	}
	o.logger.Info(fmt.Sprintf("automatically set max_tokens_per_day to %d for model %s", tpd, o.config.Model))
	return tpd
}

// Run materializes the dataset as request files, submits them as batches,
// polls until all finish, and returns the assembled response dataset. A
// dataset cached under parseFuncHash by a previous run short-circuits all
// provider work.
func (o *Orchestrator) Run(ctx context.Context, dataset Dataset, workingDir, parseFuncHash string, formatter PromptFormatter) (*ResponseDataset, error) {
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, err
	}

	cached, err := loadCachedDataset(workingDir, parseFuncHash)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		o.logger.Info(fmt.Sprintf("using cached dataset for parse function %s", parseFuncHash))
		return cached, nil
	}

	o.MaxTokensPerDay()

	requestFiles, err := CreateRequestFiles(dataset, workingDir, o.config.BatchSize, formatter, o.logger)
	if err != nil {
		return nil, err
	}

	var parse openai.ParseFunc
	if schema := formatter.ResponseFormat(); schema != nil {
		parser, err := responseformat.NewSchemaParser(schema)
		if err != nil {
			return nil, fmt.Errorf("invalid response format schema: %w", err)
		}
		parse = openai.ParseFunc(parser)
	}
	transformer := openai.NewResponseTransformer(o.config.CostOracle, o.config.BatchDiscount, parse, o.logger)

	manager, err := o.newManager(workingDir)
	if err != nil {
		return nil, err
	}

	params := openai.GenerationParams{
		Temperature:      o.config.Temperature,
		TopP:             o.config.TopP,
		PresencePenalty:  o.config.PresencePenalty,
		FrequencyPenalty: o.config.FrequencyPenalty,
	}
	buildLines := func(requestFile string) ([][]byte, error) {
		requests, err := openai.ReadRequestFile(requestFile)
		if err != nil {
			return nil, err
		}
		lines := make([][]byte, 0, len(requests))
		for _, request := range requests {
			if request.Model == "" {
				request.Model = o.config.Model
			}
			line, err := openai.MarshalBatchLine(request, params)
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
		}
		return lines, nil
	}

	if err := manager.SubmitBatchesFromRequestFiles(ctx, requestFiles, buildLines); err != nil {
		return nil, err
	}
	if err := manager.PollAndProcess(ctx, transformer.WriteResponseFile); err != nil {
		return nil, err
	}

	result, err := assembleResponseDataset(workingDir)
	if err != nil {
		return nil, err
	}
	if err := writeDatasetCache(workingDir, parseFuncHash, result); err != nil {
		return nil, err
	}
	return result, nil
}

// osExit is swapped out in tests.
var osExit = os.Exit

// Cancel cancels every non-completed batch recorded in the working
// directory's submitted journal, then exits the process with code 1 so the
// interrupted run is never mistaken for a finished one.
func (o *Orchestrator) Cancel(ctx context.Context, workingDir string) error {
	manager, err := o.newManager(workingDir)
	if err != nil {
		return err
	}
	if _, _, err := manager.CancelSubmittedBatches(ctx); err != nil {
		return err
	}
	o.logger.Warn("exiting program after batch cancellation")
	osExit(1)
	return nil
}

func (o *Orchestrator) newManager(workingDir string) (*batch.Manager, error) {
	return batch.NewManager(o.client, &batch.ManagerConfig{
		WorkingDir:                 workingDir,
		CheckInterval:              o.config.CheckInterval,
		MaxConcurrentOperations:    o.config.MaxConcurrentOperations,
		DeleteSuccessfulBatchFiles: o.config.DeleteSuccessfulBatchFiles,
		DeleteFailedBatchFiles:     o.config.DeleteFailedBatchFiles,
	}, o.logger)
}
