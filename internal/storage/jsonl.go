package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"liquidityAgent/internal/model"
)

// JsonlStorage appends events to a JSONL journal. The file is opened on the
// first write and kept open until Close.
type JsonlStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// Emit appends a single event.
func (s *JsonlStorage) Emit(_ context.Context, event model.Event) error {
	return s.PutEvents([]model.Event{event})
}

// PutEvents appends a batch of events, one JSON object per line.
func (s *JsonlStorage) PutEvents(events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	for _, event := range events {
		if err := s.enc.Encode(event); err != nil {
			return fmt.Errorf("append %s event: %w", event.Type, err)
		}
	}
	return nil
}

// Close closes the journal file. Later writes reopen it.
func (s *JsonlStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.enc = nil, nil
	return err
}

func (s *JsonlStorage) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("journal dir: %w", err)
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	s.file = file
	s.enc = json.NewEncoder(file)
	return nil
}

// ReadEvents loads every event of a journal. A missing file yields no events.
func ReadEvents(path string) ([]model.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var events []model.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event model.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("decode journal line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return events, nil
}
