package bridge

import (
	"bytes"
	"encoding/json"
)

// Command is the issuer-to-executor envelope.
type Command struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Params  json.RawMessage   `json:"params,omitempty"`
	Trace   map[string]string `json:"trace,omitempty"`
}

// Reply is the executor-to-issuer envelope. Exactly one of Result and Error
// is meaningful; a reply with neither resolves to null.
type Reply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

// ReplyError is a failure reported by an executor. On the wire it is either a
// plain string or an object with a message field; any other JSON value is
// kept verbatim as the message.
type ReplyError struct {
	Message string
}

func (e *ReplyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Message)
}

func (e *ReplyError) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) > 0 && data[0] == '{':
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &obj) == nil && obj.Message != "" {
			e.Message = obj.Message
			return nil
		}
	case len(data) > 0 && data[0] == '"':
		var s string
		if json.Unmarshal(data, &s) == nil {
			e.Message = s
			return nil
		}
	}
	e.Message = string(data)
	return nil
}

func (e *ReplyError) Error() string {
	return e.Message
}

func encodeParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
