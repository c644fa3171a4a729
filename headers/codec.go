package headers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Header is a single name/value pair. Duplicate keys are allowed.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CodecError reports a header string that could not be decoded.
type CodecError struct {
	Input string
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("headers: cannot decode %q: %v", truncate(e.Input, 64), e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Encode serializes hs into its persisted form. A nil or empty list encodes as "[]".
func Encode(hs []Header) (string, error) {
	if len(hs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(hs)
	if err != nil {
		return "", fmt.Errorf("headers: encode: %w", err)
	}
	return string(b), nil
}

// Decode parses a string produced by Encode. Blank input yields an empty list.
func Decode(s string) ([]Header, error) {
	if strings.TrimSpace(s) == "" {
		return []Header{}, nil
	}
	var hs []Header
	if err := json.Unmarshal([]byte(s), &hs); err != nil {
		return nil, &CodecError{Input: s, Err: err}
	}
	if hs == nil {
		hs = []Header{}
	}
	return hs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
