package batchline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"

	"github.com/lumenlabs/batchline/schemas"
)

// Dataset is the row source consumed by Run. The orchestrator only needs
// counted sequential access; how rows are stored is the caller's concern.
type Dataset interface {
	Len() int
	Row(idx int) (any, error)
}

// PromptFormatter turns dataset rows into generic requests. ResponseFormat
// returns the JSON schema constraining structured responses, or nil when
// responses are free-form text.
type PromptFormatter interface {
	Format(row any, idx int64) (*schemas.GenericRequest, error)
	ResponseFormat() json.RawMessage
}

// ResponseDataset is the materialized output of a run: one GenericResponse
// per input row that reached a terminal batch.
type ResponseDataset struct {
	responses []*schemas.GenericResponse
}

func (d *ResponseDataset) Len() int {
	return len(d.responses)
}

func (d *ResponseDataset) Row(idx int) (any, error) {
	if idx < 0 || idx >= len(d.responses) {
		return nil, fmt.Errorf("row index %d out of range [0, %d)", idx, len(d.responses))
	}
	return d.responses[idx], nil
}

// Responses returns the underlying records in response-file order.
func (d *ResponseDataset) Responses() []*schemas.GenericResponse {
	return d.responses
}

// assembleResponseDataset concatenates every response file in the working
// directory into one dataset, in lexical file order.
func assembleResponseDataset(workingDir string) (*ResponseDataset, error) {
	responseFiles, err := filepath.Glob(filepath.Join(workingDir, "responses_*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(responseFiles)

	dataset := &ResponseDataset{}
	for _, responseFile := range responseFiles {
		responses, err := readResponseFile(responseFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read response file %s: %w", responseFile, err)
		}
		dataset.responses = append(dataset.responses, responses...)
	}
	return dataset, nil
}

func readResponseFile(path string) ([]*schemas.GenericResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var responses []*schemas.GenericResponse
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		response := &schemas.GenericResponse{}
		if err := sonic.Unmarshal(line, response); err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return responses, nil
}

// datasetCachePath names the materialized dataset for one parse function.
func datasetCachePath(workingDir, parseFuncHash string) string {
	return filepath.Join(workingDir, parseFuncHash+".jsonl")
}

// loadCachedDataset returns the dataset materialized by a previous run with
// the same parse function, or nil when no cache exists.
func loadCachedDataset(workingDir, parseFuncHash string) (*ResponseDataset, error) {
	path := datasetCachePath(workingDir, parseFuncHash)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	responses, err := readResponseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached dataset %s: %w", path, err)
	}
	return &ResponseDataset{responses: responses}, nil
}

// writeDatasetCache materializes the dataset so later runs with the same
// parse function can skip the provider entirely.
func writeDatasetCache(workingDir, parseFuncHash string, dataset *ResponseDataset) error {
	f, err := os.Create(datasetCachePath(workingDir, parseFuncHash))
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, response := range dataset.responses {
		line, err := sonic.Marshal(response)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
