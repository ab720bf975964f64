package ingestor

import (
	"bytes"
	"errors"
	"io"
	"iter"

	"github.com/jenian/iswith/internal/scanner"
)

// DefaultChunkSize is the read size used for streamed job logs
const DefaultChunkSize = 32 * 1024

// Chunks turns r into a finite sequence of chunks. The slice handed to the
// consumer is only valid until the next iteration. The sequence can be
// ranged over once; stopping early leaves the rest of r unread.
func Chunks(r io.Reader, size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, size)
		for {
			n, err := r.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(nil, err)
				}
				return
			}
		}
	}
}

// StopFunc is consulted after every chunk with everything read so far
type StopFunc func(acc []byte) bool

// ReadUntil accumulates chunks until stop reports true or the sequence ends.
// stopped tells whether the predicate ended the read.
func ReadUntil(chunks iter.Seq2[[]byte, error], stop StopFunc) (data []byte, stopped bool, err error) {
	for chunk, err := range chunks {
		if err != nil {
			return data, false, err
		}
		data = append(data, chunk...)
		if stop != nil && stop(data) {
			return data, true, nil
		}
	}
	return data, false, nil
}

// markerAt returns a search for marker at or after from, reporting its
// offset in acc or -1. Each call only searches bytes it has not looked at
// before.
func markerAt(marker string, from int) func(acc []byte) int {
	m := []byte(marker)
	searched := from
	return func(acc []byte) int {
		start := max(from, searched-len(m)+1)
		searched = len(acc)
		if start >= len(acc) {
			return -1
		}
		if i := bytes.Index(acc[start:], m); i >= 0 {
			return start + i
		}
		return -1
	}
}

// InputsSectionRead stops once the Inputs group has been opened and then
// closed by the next endgroup marker.
func InputsSectionRead() StopFunc {
	opened := markerAt(scanner.InputsMarker, 0)
	var closed func(acc []byte) int
	return func(acc []byte) bool {
		if closed == nil {
			at := opened(acc)
			if at < 0 {
				return false
			}
			closed = markerAt(scanner.EndGroupMarker, at+len(scanner.InputsMarker))
		}
		return closed(acc) >= 0
	}
}
