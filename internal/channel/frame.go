package channel

import (
	"fmt"
	"sort"
	"strings"
)

// Frame prefixes on the request channel.
const (
	PrefixKernel = "<cf>"
	PrefixCode   = "<code>"
)

// Code frame flags, carried as <code flag,flag> in place of <code>.
const (
	FlagReset       = "reset"
	FlagLongRunning = "long"
	FlagReadOnly    = "ro"
	// flagID carries the request correlation id as id=<value>.
	flagID = "id="
)

// FrameKind tells what a frame announces.
type FrameKind int

const (
	FrameKernel FrameKind = iota + 1
	FrameCode
)

// Frame is one text message on the request channel: a connection file to
// switch to, or source code to execute.
type Frame struct {
	Kind    FrameKind
	Payload string
	Flags   []string
	// ID is the correlation id of a code frame, if the sender chose one.
	ID string
}

// KernelFrame announces a switch to the kernel at path.
func KernelFrame(path string) Frame { return Frame{Kind: FrameKernel, Payload: path} }

// CodeFrame submits code with optional flags.
func CodeFrame(code string, flags ...string) Frame {
	return Frame{Kind: FrameCode, Payload: code, Flags: flags}
}

// ParseFrame decodes a text frame.
func ParseFrame(s string) (Frame, error) {
	switch {
	case strings.HasPrefix(s, PrefixKernel):
		path := strings.TrimSpace(s[len(PrefixKernel):])
		if path == "" {
			return Frame{}, fmt.Errorf("empty connection file in %s frame", PrefixKernel)
		}
		return KernelFrame(path), nil
	case strings.HasPrefix(s, PrefixCode):
		return CodeFrame(s[len(PrefixCode):]), nil
	case strings.HasPrefix(s, "<code "):
		end := strings.IndexByte(s, '>')
		if end < 0 {
			return Frame{}, fmt.Errorf("unterminated code frame prefix")
		}
		var (
			flags []string
			id    string
		)
		for _, f := range strings.Split(s[len("<code "):end], ",") {
			f = strings.TrimSpace(f)
			switch {
			case f == "":
			case f == FlagReset, f == FlagLongRunning, f == FlagReadOnly:
				flags = append(flags, f)
			case strings.HasPrefix(f, flagID) && len(f) > len(flagID):
				id = f[len(flagID):]
			default:
				return Frame{}, fmt.Errorf("unknown code flag %q", f)
			}
		}
		fr := CodeFrame(s[end+1:], flags...)
		fr.ID = id
		return fr, nil
	}
	n := len(s)
	if n > 16 {
		n = 16
	}
	return Frame{}, fmt.Errorf("unknown frame %q", s[:n])
}

// String encodes the frame.
func (f Frame) String() string {
	switch f.Kind {
	case FrameKernel:
		return PrefixKernel + f.Payload
	case FrameCode:
		flags := append([]string(nil), f.Flags...)
		sort.Strings(flags)
		if f.ID != "" {
			flags = append(flags, flagID+f.ID)
		}
		if len(flags) == 0 {
			return PrefixCode + f.Payload
		}
		return "<code " + strings.Join(flags, ",") + ">" + f.Payload
	}
	return ""
}

// Has reports whether the frame carries flag.
func (f Frame) Has(flag string) bool {
	for _, x := range f.Flags {
		if x == flag {
			return true
		}
	}
	return false
}

// Request converts a code frame into an evaluation request. Code that is
// exactly a reset magic is flagged as a reset. The frame id is kept when
// present.
func (f Frame) Request() Request {
	req := NewRequest(f.Payload)
	if f.ID != "" {
		req.ID = f.ID
	}
	req.Reset = f.Has(FlagReset) || IsResetCode(f.Payload)
	req.LongRunning = f.Has(FlagLongRunning)
	req.ReadOnly = f.Has(FlagReadOnly)
	return req
}
