package canproxy

import "bytes"

// MaxLineLength bounds how much unterminated data a LineBuffer holds.
const MaxLineLength = 4096

// LineBuffer reassembles newline delimited lines from partial reads.
// It is not safe for concurrent use.
type LineBuffer struct {
	buf []byte
}

// Write appends p to the buffer. It fails with ErrLineTooLong if the
// pending, unterminated tail grows beyond MaxLineLength.
func (lb *LineBuffer) Write(p []byte) (int, error) {
	lb.buf = append(lb.buf, p...)
	tail := lb.buf
	if i := bytes.LastIndexByte(tail, lineTerminator); i >= 0 {
		tail = tail[i+1:]
	}
	if len(tail) > MaxLineLength {
		return len(p), ErrLineTooLong
	}
	return len(p), nil
}

// Next pops the first complete line, without its newline.
func (lb *LineBuffer) Next() (string, bool) {
	i := bytes.IndexByte(lb.buf, lineTerminator)
	if i < 0 {
		return "", false
	}
	line := string(lb.buf[:i])
	n := copy(lb.buf, lb.buf[i+1:])
	lb.buf = lb.buf[:n]
	return line, true
}

// Len returns the number of buffered bytes.
func (lb *LineBuffer) Len() int {
	return len(lb.buf)
}
