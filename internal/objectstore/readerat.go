package objectstore

import (
	"bytes"
	"io"
	"os"
)

// memReader backs OpenObject's in-memory path: the whole object is already
// buffered, so ReadAt is a simple bytes.Reader.
type memReader struct {
	*bytes.Reader
	size int64
}

func newMemReader(buf []byte) *memReader {
	return &memReader{Reader: bytes.NewReader(buf), size: int64(len(buf))}
}

func (m *memReader) Size() int64 { return m.size }
func (m *memReader) Close() error { return nil }

// streamingReader backs OpenObject's large-object path: the body is copied
// to a temp file so Parquet's random-access row-group reads don't require
// holding the whole object in memory (spec.md §4.1 "Streaming switchover").
type streamingReader struct {
	f    *os.File
	size int64
}

func newStreamingReader(body io.ReadCloser) (*streamingReader, error) {
	defer body.Close()
	tmp, err := os.CreateTemp("", "aggregator-object-*.parquet")
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return &streamingReader{f: tmp, size: size}, nil
}

func (s *streamingReader) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *streamingReader) Size() int64                             { return s.size }
func (s *streamingReader) Close() error {
	name := s.f.Name()
	err := s.f.Close()
	os.Remove(name)
	return err
}
