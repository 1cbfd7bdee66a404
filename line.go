package canproxy

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	lineSeparator  = '#'
	lineTerminator = '\n'
)

const hextable = "0123456789ABCDEF"

// EncodeLine renders a frame as "<ID>#<DATA>\n" with uppercase hex, the
// identifier unpadded and every data byte as two digits.
func EncodeLine(f *CANFrame) []byte {
	buf := make([]byte, 0, 8+1+len(f.Data)*2+1)
	buf = strconv.AppendUint(buf, uint64(f.Identifier), 16)
	for i := range buf {
		if buf[i] >= 'a' && buf[i] <= 'f' {
			buf[i] -= 'a' - 'A'
		}
	}
	buf = append(buf, lineSeparator)
	for _, b := range f.Data {
		buf = append(buf, hextable[b>>4], hextable[b&0x0F])
	}
	return append(buf, lineTerminator)
}

// DecodeLine parses a single line without its terminating newline. A
// trailing carriage return is ignored. Lines without a separator return
// ErrNoSeparator, everything else that does not parse wraps ErrMalformedLine.
// An odd payload length wraps ErrOddLength as well.
// The Extended flag is derived from the identifier.
func DecodeLine(line string) (*CANFrame, error) {
	line = strings.TrimSuffix(line, "\r")
	idStr, dataStr, found := strings.Cut(line, string(lineSeparator))
	if !found {
		return nil, ErrNoSeparator
	}

	id, err := strconv.ParseUint(strings.TrimSpace(idStr), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: identifier %q: %v", ErrMalformedLine, idStr, err)
	}
	if id > MaxExtendedID {
		return nil, fmt.Errorf("%w: identifier 0x%X: %v", ErrMalformedLine, id, ErrInvalidID)
	}

	if len(dataStr)%2 != 0 {
		return nil, fmt.Errorf("%w %d", ErrOddLength, len(dataStr))
	}
	if len(dataStr)/2 > MaxDataLength {
		return nil, fmt.Errorf("%w: %d data bytes: %v", ErrMalformedLine, len(dataStr)/2, ErrInvalidLength)
	}
	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return nil, fmt.Errorf("%w: payload %q: %v", ErrMalformedLine, dataStr, err)
	}

	return &CANFrame{
		Identifier: uint32(id),
		Extended:   id > MaxStandardID,
		Data:       data,
	}, nil
}
