package connector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/butlerhub/switchboard/internal/envelope"
)

// FileSource is the Source for the channel=api/provider=internal connector
// type: it tails a newline-delimited-JSON file of ingest.v1 envelopes,
// resuming from the byte offset its cursor encodes. It stands in for the
// vertical-specific sources (telegram long-poll, gmail push, imap idle)
// spec.md §1 calls out as external collaborators this specification only
// defines the runtime contract for — FileSource exercises that same
// contract against a source a test or an internal tool can drive directly.
type FileSource struct {
	path   string
	offset int64
	file   *os.File
	reader *bufio.Reader
}

// NewFileSource opens path for tailing, seeking to startCursor (a decimal
// byte offset) if non-empty.
func NewFileSource(path, startCursor string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file %s: %w", path, err)
	}
	var offset int64
	if startCursor != "" {
		offset, err = strconv.ParseInt(startCursor, 10, 64)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("invalid cursor %q: %w", startCursor, err)
		}
	}
	if _, err := f.Seek(offset, os.SEEK_SET); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek to offset %d: %w", offset, err)
	}
	return &FileSource{path: path, offset: offset, file: f, reader: bufio.NewReader(f)}, nil
}

// Close releases the underlying file handle.
func (s *FileSource) Close() error { return s.file.Close() }

// Next blocks, polling for a new line, until one is available, ctx is
// cancelled, or the file becomes unreadable.
func (s *FileSource) Next(ctx context.Context) (*envelope.Envelope, string, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			s.offset += int64(len(line))
			var env envelope.Envelope
			if jsonErr := json.Unmarshal(line, &env); jsonErr != nil {
				return nil, "", fmt.Errorf("decode line at offset %d: %w", s.offset, jsonErr)
			}
			return &env, strconv.FormatInt(s.offset, 10), nil
		}
		if err != nil && err != io.EOF {
			return nil, "", fmt.Errorf("read source file %s: %w", s.path, err)
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
