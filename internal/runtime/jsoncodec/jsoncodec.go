// Package jsoncodec routes every JSON read and write in eventscore through
// sonic configured for encoding/json compatibility.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any) ([]byte, error) {
	return api.MarshalIndent(v, "", "  ")
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Write encodes v as a single JSON document followed by a newline.
func Write(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}
