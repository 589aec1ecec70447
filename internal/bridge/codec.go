package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeBytes turns a raw payload into JSON-safe text. The encoding is
// standard base64, which round-trips every byte value.
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBytes reverses EncodeBytes.
func DecodeBytes(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return data, nil
}

// DecodeBody decodes a response body holding an encoded payload. An empty
// or null body is an empty payload.
func DecodeBody(body json.RawMessage) ([]byte, error) {
	if len(body) == 0 || string(body) == "null" {
		return []byte{}, nil
	}
	var s string
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("expected encoded payload string: %w", err)
	}
	return DecodeBytes(s)
}
