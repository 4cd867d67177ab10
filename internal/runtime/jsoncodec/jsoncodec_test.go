package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Group string `json:"group"`
	Count int    `json:"count"`
}

func TestMarshalRoundTrip(t *testing.T) {
	in := sample{Group: "billing", Count: 2}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected %#v, got %#v", in, out)
	}
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(sample{Group: "g"})
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"group\"") {
		t.Fatalf("expected two-space indentation, got %s", data)
	}
}

func TestWriteAppendsNewline(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Write(buf, sample{Group: "g", Count: 1}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected trailing newline, got %q", buf.String())
	}
}
