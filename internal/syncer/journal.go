package syncer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/accessmate/accessmate/internal/filex"
)

// Journal is the persistent outbound queue: newline-delimited ChangeRecords
// pending push. Appends are durable immediately; after a successful flush
// the file is compacted by rewriting the unacknowledged tail.
type Journal struct {
	mu   sync.Mutex
	path string
}

// OpenJournal opens (or creates) the journal at path and returns the records
// still pending from a previous run. Lines that fail to parse are skipped;
// a torn final line from a crash mid-append must not poison the queue.
func OpenJournal(path string) (*Journal, []*ChangeRecord, error) {
	j := &Journal{path: path}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var pending []*ChangeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ChangeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		pending = append(pending, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan journal: %w", err)
	}

	return j, pending, nil
}

// Append durably adds a record to the journal.
func (j *Journal) Append(rec *ChangeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return f.Sync()
}

// Rewrite replaces the journal contents with the given unacknowledged
// records, compacting away everything already pushed.
func (j *Journal) Rewrite(pending []*ChangeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var buf []byte
	for _, rec := range pending {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal journal record: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	if err := filex.WriteFileAtomic(j.path, buf, 0o600); err != nil {
		return fmt.Errorf("rewrite journal: %w", err)
	}
	return nil
}
