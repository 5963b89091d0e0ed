package batchline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"

	"github.com/lumenlabs/batchline/schemas"
)

// CreateRequestFiles materializes the dataset as request files of at most
// batchSize lines each, one GenericRequest per line. Files left by an
// earlier run are reused as-is so resumed runs see identical inputs.
func CreateRequestFiles(dataset Dataset, workingDir string, batchSize int, formatter PromptFormatter, logger schemas.Logger) ([]string, error) {
	existing, err := filepath.Glob(filepath.Join(workingDir, "requests_*.jsonl"))
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		sort.Strings(existing)
		logger.Info(fmt.Sprintf("using %d cached request files in %s", len(existing), workingDir))
		return existing, nil
	}

	responseFormat := formatter.ResponseFormat()

	var requestFiles []string
	var w *bufio.Writer
	var f *os.File
	nRows := dataset.Len()
	for idx := 0; idx < nRows; idx++ {
		if idx%batchSize == 0 {
			if f != nil {
				if err := flushAndClose(w, f); err != nil {
					return nil, err
				}
			}
			path := filepath.Join(workingDir, fmt.Sprintf("requests_%d.jsonl", len(requestFiles)))
			f, err = os.Create(path)
			if err != nil {
				return nil, err
			}
			w = bufio.NewWriter(f)
			requestFiles = append(requestFiles, path)
		}

		row, err := dataset.Row(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset row %d: %w", idx, err)
		}
		request, err := formatter.Format(row, int64(idx))
		if err != nil {
			return nil, fmt.Errorf("failed to format dataset row %d: %w", idx, err)
		}
		request.OriginalRowIdx = int64(idx)
		request.ResponseFormat = responseFormat

		line, err := sonic.Marshal(request)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(line); err != nil {
			return nil, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return nil, err
		}
	}
	if f != nil {
		if err := flushAndClose(w, f); err != nil {
			return nil, err
		}
	}

	logger.Info(fmt.Sprintf("created %d request files for %d rows in %s", len(requestFiles), nRows, workingDir))
	return requestFiles, nil
}

func flushAndClose(w *bufio.Writer, f *os.File) error {
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
