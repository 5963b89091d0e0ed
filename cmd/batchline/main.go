// Command batchline submits a JSONL file of chat requests as provider
// batches and writes the assembled responses back to disk. Interrupted runs
// resume from the journals in the working directory; cancel aborts them.
package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumenlabs/batchline"
	"github.com/lumenlabs/batchline/schemas"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:          "batchline",
		Short:        "Batch request orchestrator for provider batch APIs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
				return err
			}
			v.SetEnvPrefix("BATCHLINE")
			v.AutomaticEnv()

			// Missing env files are fine; explicit ones must load.
			envFile := v.GetString("env-file")
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().String("working-dir", "batchline-work", "directory for request, response and journal files")
	root.PersistentFlags().String("env-file", ".env", "env file with OPENAI_API_KEY")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("pretty", false, "human-readable console logs instead of JSON")

	root.AddCommand(newRunCommand(v), newCancelCommand(v))
	return root
}

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit the input requests as batches and wait for results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			orchestrator, logger, err := buildOrchestrator(v)
			if err != nil {
				return err
			}

			dataset, err := loadInputDataset(v.GetString("input"))
			if err != nil {
				return err
			}

			formatter := &jsonlFormatter{}
			if schemaFile := v.GetString("response-schema"); schemaFile != "" {
				schema, err := os.ReadFile(schemaFile)
				if err != nil {
					return err
				}
				formatter.responseFormat = schema
			}

			result, err := orchestrator.Run(cmd.Context(), dataset,
				v.GetString("working-dir"), datasetHash(dataset, formatter), formatter)
			if err != nil {
				return err
			}
			logger.Info(fmt.Sprintf("run finished with %d responses", result.Len()))
			return nil
		},
	}

	cmd.Flags().String("input", "", "input JSONL file, one chat request per line")
	cmd.Flags().String("model", "gpt-4o-mini", "model for every request")
	cmd.Flags().String("response-schema", "", "JSON schema file constraining response content")
	cmd.Flags().Int("batch-size", batchline.DefaultBatchSize, "max requests per batch file")
	cmd.Flags().Duration("check-interval", time.Minute, "delay between poll cycles")
	cmd.Flags().Int("max-concurrent-operations", 0, "cap on in-flight provider calls (0 = default)")
	cmd.Flags().Bool("delete-successful-batch-files", false, "delete provider files of successful batches")
	cmd.Flags().Bool("delete-failed-batch-files", false, "delete provider files of failed batches")
	cmd.Flags().Float64("batch-discount", batchline.DefaultBatchDiscount, "cost multiplier for batched requests")
	cmd.MarkFlagRequired("input")
	return cmd
}

func newCancelCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the submitted batches of a working directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			orchestrator, _, err := buildOrchestrator(v)
			if err != nil {
				return err
			}
			return orchestrator.Cancel(cmd.Context(), v.GetString("working-dir"))
		},
	}
}

func buildOrchestrator(v *viper.Viper) (*batchline.Orchestrator, schemas.Logger, error) {
	logger := batchline.NewDefaultLogger(parseLogLevel(v.GetString("log-level")))
	if v.GetBool("pretty") {
		logger.SetOutputType(batchline.LoggerOutputTypePretty)
	}

	orchestrator, err := batchline.New(&batchline.Config{
		Model:                      v.GetString("model"),
		APIKey:                     os.Getenv("OPENAI_API_KEY"),
		BatchSize:                  v.GetInt("batch-size"),
		CheckInterval:              v.GetDuration("check-interval"),
		MaxConcurrentOperations:    v.GetInt("max-concurrent-operations"),
		DeleteSuccessfulBatchFiles: v.GetBool("delete-successful-batch-files"),
		DeleteFailedBatchFiles:     v.GetBool("delete-failed-batch-files"),
		BatchDiscount:              v.GetFloat64("batch-discount"),
		Logger:                     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return orchestrator, logger, nil
}

func parseLogLevel(level string) schemas.LogLevel {
	switch level {
	case "debug":
		return schemas.LogLevelDebug
	case "warn":
		return schemas.LogLevelWarn
	case "error":
		return schemas.LogLevelError
	default:
		return schemas.LogLevelInfo
	}
}

// inputDataset holds the raw JSONL rows of the input file.
type inputDataset struct {
	rows []json.RawMessage
}

func (d *inputDataset) Len() int { return len(d.rows) }

func (d *inputDataset) Row(idx int) (any, error) {
	if idx < 0 || idx >= len(d.rows) {
		return nil, fmt.Errorf("row index %d out of range [0, %d)", idx, len(d.rows))
	}
	return d.rows[idx], nil
}

func loadInputDataset(path string) (*inputDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dataset := &inputDataset{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		dataset.rows = append(dataset.rows, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(dataset.rows) == 0 {
		return nil, fmt.Errorf("input file %s contains no requests", path)
	}
	return dataset, nil
}

// jsonlFormatter maps input rows of the form {"messages": [...]} to generic
// requests, passing an optional response schema through unchanged.
type jsonlFormatter struct {
	responseFormat json.RawMessage
}

func (f *jsonlFormatter) Format(row any, idx int64) (*schemas.GenericRequest, error) {
	raw, ok := row.(json.RawMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected row type %T at row %d", row, idx)
	}
	request := &schemas.GenericRequest{}
	if err := sonic.Unmarshal(raw, request); err != nil {
		return nil, fmt.Errorf("invalid request at row %d: %w", idx, err)
	}
	if len(request.Messages) == 0 {
		return nil, fmt.Errorf("request at row %d has no messages", idx)
	}
	return request, nil
}

func (f *jsonlFormatter) ResponseFormat() json.RawMessage {
	return f.responseFormat
}

// datasetHash keys the result cache on the inputs that shape responses.
func datasetHash(dataset *inputDataset, formatter *jsonlFormatter) string {
	h := sha256.New()
	for _, row := range dataset.rows {
		h.Write(row)
		h.Write([]byte{'\n'})
	}
	h.Write(formatter.responseFormat)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
