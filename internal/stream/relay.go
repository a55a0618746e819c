// Package stream relays upstream response bodies to clients chunk by chunk.
package stream

import (
	"errors"
	"io"
	"iter"
	"net/http"
)

// DefaultChunkSize is the read buffer size used by Relay.
const DefaultChunkSize = 32 * 1024

// Chunks returns an iterator over successive reads from r. Each read happens
// only when the consumer pulls the next chunk, and breaking out of the loop
// stops reading. The yielded slice is reused and is valid only until the
// next iteration. Iteration ends after io.EOF (not yielded) or after the
// first other read error, which is yielded with a nil chunk.
func Chunks(r io.Reader, size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, size)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
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

// Relay copies r to w one chunk at a time, flushing after every chunk when w
// supports it, so each upstream chunk reaches the client as soon as it is
// read. It returns the number of bytes written and the first read or write
// error; io.EOF is not an error.
func Relay(w io.Writer, r io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)

	var written int64
	for chunk, err := range Chunks(r, DefaultChunkSize) {
		if err != nil {
			return written, err
		}
		n, werr := w.Write(chunk)
		written += int64(n)
		if werr != nil {
			return written, werr
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return written, nil
}
