package broker

import (
	"bytes"
	"fmt"
	"strings"
)

// STOMP commands used by the marketplace broker.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdDisconnect  = "DISCONNECT"
	CmdError       = "ERROR"
)

// Frame is a single STOMP frame: command line, headers, NUL-terminated body.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// Header returns the named header or "".
func (f *Frame) Header(key string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[key]
}

// Marshal encodes the frame for the wire.
func (f *Frame) Marshal() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for k, v := range f.Headers {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Parse decodes a frame from the wire. A bare newline is a heartbeat and
// yields (nil, nil).
func Parse(data []byte) (*Frame, error) {
	trimmed := bytes.TrimLeft(data, "\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}

	head, body, found := bytes.Cut(trimmed, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("malformed frame: missing header terminator")
	}

	lines := strings.Split(string(head), "\n")
	f := &Frame{
		Command: strings.TrimRight(lines[0], "\r"),
		Headers: make(map[string]string, len(lines)-1),
	}
	if f.Command == "" {
		return nil, fmt.Errorf("malformed frame: empty command")
	}
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		// First occurrence wins, per STOMP.
		if _, dup := f.Headers[key]; !dup {
			f.Headers[key] = value
		}
	}

	f.Body = bytes.TrimSuffix(body, []byte{0})
	return f, nil
}
