package broker

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Command: CmdSend,
		Headers: map[string]string{"destination": "/app/chat/send"},
		Body:    []byte(`{"tempId":"abc-123"}`),
	}
	parsed, err := Parse(f.Marshal())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Command != CmdSend {
		t.Errorf("command = %q, want %q", parsed.Command, CmdSend)
	}
	if parsed.Header("destination") != "/app/chat/send" {
		t.Errorf("destination = %q", parsed.Header("destination"))
	}
	if !bytes.Equal(parsed.Body, f.Body) {
		t.Errorf("body = %q, want %q", parsed.Body, f.Body)
	}
}

func TestParseHeartbeat(t *testing.T) {
	for _, data := range [][]byte{[]byte("\n"), []byte("\r\n"), nil} {
		f, err := Parse(data)
		if err != nil || f != nil {
			t.Errorf("Parse(%q) = %v, %v; want nil, nil", data, f, err)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("MESSAGE\ndestination /x\n\nbody\x00")); err == nil {
		t.Error("expected error for header without colon")
	}
	if _, err := Parse([]byte("SEND\nno-terminator")); err == nil {
		t.Error("expected error for missing header terminator")
	}
}

func TestParseFirstHeaderWins(t *testing.T) {
	data := []byte("MESSAGE\ndestination:/a\ndestination:/b\n\n\x00")
	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Header("destination") != "/a" {
		t.Errorf("destination = %q, want /a", f.Header("destination"))
	}
}
