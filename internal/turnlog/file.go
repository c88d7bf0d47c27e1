package turnlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	filePrefix = "turns-"
	fileSuffix = ".jsonl"
	dayFormat  = "2006-01-02"
)

// FileStore appends JSON-line records to one file per day. Purge removes
// whole files once every record in them is past the retention cutoff.
type FileStore struct {
	dir string

	mu      sync.Mutex
	curDay  string
	curFile *os.File
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create turn log dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Append(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode turn record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := record.Timestamp.UTC().Format(dayFormat)
	if err := s.rotateLocked(day); err != nil {
		return err
	}
	if _, err := s.curFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append turn record: %w", err)
	}
	return nil
}

// Purge removes day files whose date is strictly before the cutoff date.
// Granularity is the whole file, matching the retention policy.
func (s *FileStore) Purge(_ context.Context, olderThan time.Time) error {
	cutoff := olderThan.UTC().Format(dayFormat)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan turn log dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if day >= cutoff {
			continue
		}
		s.mu.Lock()
		if s.curDay == day && s.curFile != nil {
			s.curFile.Close()
			s.curFile = nil
			s.curDay = ""
		}
		s.mu.Unlock()
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// Tail returns the last n records of the current day's file.
func (s *FileStore) Tail(n int) ([]Record, error) {
	if n <= 0 {
		n = 50
	}
	day := time.Now().UTC().Format(dayFormat)

	// Appends are unbuffered, so a plain re-read sees everything written.
	f, err := os.Open(filepath.Join(s.dir, filePrefix+day+fileSuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open turn log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		records = append(records, r)
		if len(records) > n {
			records = records[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read turn log: %w", err)
	}
	return records, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curFile != nil {
		err := s.curFile.Close()
		s.curFile = nil
		return err
	}
	return nil
}

// rotateLocked opens the file for day, closing the previous day's handle.
func (s *FileStore) rotateLocked(day string) error {
	if s.curFile != nil && s.curDay == day {
		return nil
	}
	if s.curFile != nil {
		s.curFile.Close()
		s.curFile = nil
	}
	f, err := os.OpenFile(
		filepath.Join(s.dir, filePrefix+day+fileSuffix),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("open turn log file: %w", err)
	}
	s.curDay = day
	s.curFile = f
	return nil
}
