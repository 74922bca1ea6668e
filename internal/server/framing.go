package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var errFrameTooLarge = errors.New("message exceeds size limit")

// frameReader splits a stream into newline-terminated frames of bounded
// size. An oversized frame is discarded up to its newline and reported
// as errFrameTooLarge, leaving the reader positioned at the next frame.
type frameReader struct {
	r   *bufio.Reader
	max int
	buf []byte
}

func newFrameReader(r io.Reader, max int) *frameReader {
	return &frameReader{
		r:   bufio.NewReaderSize(r, 64*1024),
		max: max,
	}
}

// Next returns the next non-empty frame without its newline. The slice is
// only valid until the following call.
func (f *frameReader) Next() ([]byte, error) {
	for {
		frame, err := f.readLine()
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(frame)) > 0 {
			return frame, nil
		}
	}
}

func (f *frameReader) readLine() ([]byte, error) {
	f.buf = f.buf[:0]
	tooLarge := false

	for {
		chunk, err := f.r.ReadSlice('\n')
		if !tooLarge {
			if len(f.buf)+len(bytes.TrimRight(chunk, "\r\n")) > f.max {
				tooLarge = true
				f.buf = f.buf[:0]
			} else {
				f.buf = append(f.buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLarge {
				return nil, errFrameTooLarge
			}
			return bytes.TrimRight(f.buf, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(f.buf) > 0 && !tooLarge:
			// Final frame without a trailing newline
			return f.buf, nil
		default:
			return nil, err
		}
	}
}
