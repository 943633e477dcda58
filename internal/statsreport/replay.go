package statsreport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// ReplaySource plays back a recorded stats session: one JSON report per
// line, one report per poll.
type ReplaySource struct {
	path   string
	loop   bool
	logger *logging.Logger

	mu        sync.Mutex
	file      *os.File
	reader    *bufio.Reader
	line      int
	exhausted bool
	closed    bool
}

func NewReplaySource(path string, loop bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	return &ReplaySource{
		path:   path,
		loop:   loop,
		logger: logging.NewLogger("replay"),
		file:   f,
		reader: bufio.NewReaderSize(f, 64*1024),
	}, nil
}

// PollStats delivers the next report. Once the file is exhausted and loop
// is off, polls deliver nothing.
func (s *ReplaySource) PollStats(ctx context.Context, deliver func(*types.Report)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	report, err := s.next()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if report != nil {
		deliver(report)
	}
	return nil
}

func (s *ReplaySource) next() (*types.Report, error) {
	if s.closed {
		return nil, os.ErrClosed
	}
	for !s.exhausted {
		raw, err := s.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) > 0 {
			s.line++
			report, perr := Parse(bytes.TrimSpace(raw))
			if perr != nil {
				return nil, fmt.Errorf("%s line %d: %w", s.path, s.line, perr)
			}
			return report, nil
		}
		if errors.Is(err, io.EOF) {
			if !s.loop {
				s.exhausted = true
				s.logger.Info("Replay finished",
					logging.Field{Key: "path", Value: s.path},
					logging.Field{Key: "reports", Value: s.line})
				return nil, nil
			}
			if s.line == 0 {
				s.exhausted = true
				return nil, nil
			}
			if _, serr := s.file.Seek(0, io.SeekStart); serr != nil {
				return nil, fmt.Errorf("rewind replay file: %w", serr)
			}
			s.reader.Reset(s.file)
			s.line = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read replay file: %w", err)
		}
	}
	return nil, nil
}

// Exhausted reports whether a non-looping replay has delivered every line.
func (s *ReplaySource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
