package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// StdoutPath selects standard output as the JSONL destination.
const StdoutPath = "-"

// ZstdSuffix turns on compression for file destinations.
const ZstdSuffix = ".zst"

type JSONLOptions struct {
	Path string `validate:"required"`
}

// JSONLSink writes one JSON record per line.
type JSONLSink struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *json.Encoder
	zw     *zstd.Encoder
	file   syncCloser
	closed bool
}

// syncCloser is the part of *os.File the sink owns.
type syncCloser interface {
	Sync() error
	Close() error
}

// NewJSONLSink opens opts.Path for appending, or wraps stdout for "-".
// Paths ending in .zst are zstd-compressed.
func NewJSONLSink(opts JSONLOptions) (*JSONLSink, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if opts.Path == StdoutPath {
		return NewJSONLWriter(os.Stdout, false)
	}

	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", opts.Path)
	}
	s, err := NewJSONLWriter(f, strings.HasSuffix(opts.Path, ZstdSuffix))
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// NewJSONLWriter writes records to w. The caller keeps ownership of w.
func NewJSONLWriter(w io.Writer, compress bool) (*JSONLSink, error) {
	s := &JSONLSink{}
	if compress {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, "create zstd writer")
		}
		s.zw = zw
		w = zw
	}
	s.buf = bufio.NewWriter(w)
	s.enc = json.NewEncoder(s.buf)
	return s, nil
}

func (s *JSONLSink) Submit(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if err := s.enc.Encode(rec); err != nil {
		return errors.Wrap(err, "encode record")
	}
	return nil
}

// Flush pushes buffered lines through the compressor to the file and syncs
// it. Stdout is not synced.
func (s *JSONLSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.flushLocked()
}

func (s *JSONLSink) flushLocked() error {
	if err := s.buf.Flush(); err != nil {
		return errors.Wrap(err, "flush buffer")
	}
	if s.zw != nil {
		if err := s.zw.Flush(); err != nil {
			return errors.Wrap(err, "flush zstd block")
		}
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			return errors.Wrap(err, "sync file")
		}
	}
	return nil
}

// Close flushes and finishes the zstd frame. A file opened by NewJSONLSink
// is closed too.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	// the file is released even when flushing fails
	var errs []error
	if err := s.buf.Flush(); err != nil {
		errs = append(errs, errors.Wrap(err, "flush buffer"))
	}
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close zstd writer"))
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close file"))
		}
	}
	return stderrors.Join(errs...)
}

// ReadJSONL decodes every record in r, which may be zstd-compressed.
func ReadJSONL(r io.Reader, compressed bool) ([]*Record, error) {
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "create zstd reader")
		}
		defer zr.Close()
		r = zr
	}

	var out []*Record
	dec := json.NewDecoder(r)
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, errors.Wrapf(err, "decode record %d", len(out)+1)
		}
		out = append(out, &rec)
	}
}
