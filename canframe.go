package canproxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Identifier limits for classical CAN.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLength = 8
)

type CANFrame struct {
	Identifier uint32
	Extended   bool
	Data       []byte
}

// NewFrame creates a new CANFrame and copies the data slice.
// Identifiers above 0x7FF are marked as extended.
func NewFrame(identifier uint32, data []byte) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Extended:   identifier > MaxStandardID,
		Data:       d,
	}
}

// NewExtendedFrame creates a new CANFrame with a 29-bit identifier regardless of its value.
func NewExtendedFrame(identifier uint32, data []byte) *CANFrame {
	frame := NewFrame(identifier, data)
	frame.Extended = true
	return frame
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

// Validate checks the identifier range and data length.
func (f *CANFrame) Validate() error {
	if len(f.Data) > MaxDataLength {
		return ErrInvalidLength
	}
	if f.Identifier > MaxExtendedID || (!f.Extended && f.Identifier > MaxStandardID) {
		return ErrInvalidID
	}
	return nil
}

var (
	yellow = color.New(color.FgYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) idString() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.Identifier)
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f *CANFrame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-23s", hexView.String())
}

func (f *CANFrame) binView() string {
	var binView strings.Builder
	for i, b := range f.Data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(f.Data)-1 {
			binView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-71s", binView.String())
}

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(f.idString() + " || ")
	out.WriteString(strconv.Itoa(f.DLC()) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(f.binView())
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(green("%s", f.idString()) + " || ")
	out.WriteString(strconv.Itoa(f.DLC()) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(red("%s", f.binView()))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
