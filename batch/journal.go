package batch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/lumenlabs/batchline/schemas"
)

// CancelledJournalSuffix is appended to a submitted journal on cancellation
// to preserve history while removing it from the resume path.
const CancelledJournalSuffix = ".cancelled"

// SubmittedJournalPath returns the submitted journal path for one account.
func SubmittedJournalPath(workingDir, keySuffix string) string {
	return filepath.Join(workingDir, fmt.Sprintf("batch_objects_submitted_%s.jsonl", keySuffix))
}

// DownloadedJournalPath returns the downloaded journal path for one account.
func DownloadedJournalPath(workingDir, keySuffix string) string {
	return filepath.Join(workingDir, fmt.Sprintf("batch_objects_downloaded_%s.jsonl", keySuffix))
}

// Journal is an append-only on-disk log of batch descriptors, one JSON
// object per line. Appends are line-atomic: the full record is written and
// flushed under a lock before the journal is released.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal opens a journal at the given path. The file is created lazily
// on first append.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the on-disk location of the journal.
func (j *Journal) Path() string {
	return j.path
}

// Exists reports whether the journal file is present on disk.
func (j *Journal) Exists() bool {
	_, err := os.Stat(j.path)
	return err == nil
}

// Append writes one batch descriptor as a full line and syncs it to disk.
func (j *Journal) Append(batch *schemas.Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	line, err := sonic.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch %s: %w", batch.ID, err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", j.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to journal %s: %w", j.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal %s: %w", j.path, err)
	}
	return nil
}

// Read returns every batch descriptor in the journal, oldest first. A
// missing journal reads as empty.
func (j *Journal) Read() ([]*schemas.Batch, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return readJournalFile(j.path)
}

// MarkCancelled renames the journal with the cancelled suffix so later runs
// will not resume from it.
func (j *Journal) MarkCancelled() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.Rename(j.path, j.path+CancelledJournalSuffix); err != nil {
		return fmt.Errorf("failed to rename journal %s: %w", j.path, err)
	}
	return nil
}

// ReadDownloadedJournals reads every downloaded journal in the working
// directory, across all account suffixes.
func ReadDownloadedJournals(workingDir string) ([]*schemas.Batch, error) {
	paths, err := filepath.Glob(filepath.Join(workingDir, "batch_objects_downloaded_*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob downloaded journals: %w", err)
	}

	var batches []*schemas.Batch
	for _, path := range paths {
		fileBatches, err := readJournalFile(path)
		if err != nil {
			return nil, err
		}
		batches = append(batches, fileBatches...)
	}
	return batches, nil
}

func readJournalFile(path string) ([]*schemas.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	defer f.Close()

	var batches []*schemas.Batch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var batch schemas.Batch
		if err := sonic.Unmarshal(line, &batch); err != nil {
			return nil, fmt.Errorf("failed to parse journal line in %s: %w", path, err)
		}
		batches = append(batches, &batch)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal %s: %w", path, err)
	}
	return batches, nil
}
