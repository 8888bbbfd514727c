package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the request body codec.
type Encoding string

// Supported encodings.
const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Content types for each encoding.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/x-msgpack"
)

// ParseEncoding parses an encoding name. Empty selects JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("invalid encoding: %q (must be json or msgpack)", s)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return ContentTypeMsgpack
	}
	return ContentTypeJSON
}

// Marshal encodes v with the encoding.
func (e Encoding) Marshal(v any) ([]byte, error) {
	if e == EncodingMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

// unmarshalResponse decodes a response body according to its Content-Type.
// An empty body is not an error.
func unmarshalResponse(contentType string, body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if strings.HasPrefix(contentType, ContentTypeMsgpack) {
		return msgpack.Unmarshal(body, v)
	}
	return json.Unmarshal(body, v)
}
