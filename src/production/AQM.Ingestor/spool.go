package aqmingestor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
)

// Spool is a JSON-lines file of readings whose store write failed.
type Spool struct {
	path string
	mu   sync.Mutex
}

// ReplayResult summarises one replay pass
type ReplayResult struct {
	Replayed  int
	Remaining int
	Corrupt   int
}

func NewSpool(path string) (*Spool, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create spool directory: %w", err)
		}
	}
	return &Spool{path: path}, nil
}

func (s *Spool) Path() string {
	return s.path
}

// Append adds a reading and syncs the file before returning
func (s *Spool) Append(reading aqmmodels.Reading) error {
	line, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to write spool: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync spool: %w", err)
	}
	return f.Close()
}

// Replay feeds spooled readings to fn in the order they were spooled. It stops
// at the first failure and keeps that reading and everything after it.
// Lines that cannot be decoded are discarded.
func (s *Spool) Replay(ctx context.Context, fn func(context.Context, aqmmodels.Reading) error) (ReplayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result ReplayResult
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, fmt.Errorf("failed to read spool: %w", err)
	}

	var remaining [][]byte
	var replayErr error
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if replayErr != nil {
			remaining = append(remaining, append([]byte(nil), line...))
			continue
		}

		var reading aqmmodels.Reading
		if err := json.Unmarshal(line, &reading); err != nil {
			result.Corrupt++
			continue
		}
		if err := fn(ctx, reading); err != nil {
			replayErr = err
			remaining = append(remaining, append([]byte(nil), line...))
			continue
		}
		result.Replayed++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to scan spool: %w", err)
	}

	result.Remaining = len(remaining)
	if err := s.rewrite(remaining); err != nil {
		return result, err
	}
	if replayErr != nil {
		return result, fmt.Errorf("replay stopped: %w", replayErr)
	}
	return result, nil
}

// rewrite replaces the spool atomically, removing it when empty
func (s *Spool) rewrite(lines [][]byte) error {
	if len(lines) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove spool: %w", err)
		}
		return nil
	}

	tmp := s.path + ".tmp"
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write spool: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace spool: %w", err)
	}
	return nil
}
