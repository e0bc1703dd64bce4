package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Protocol constants for the streamable HTTP transport.
const (
	JSONRPCVersion  = "2.0"
	ProtocolVersion = "2025-06-18"

	SessionHeader         = "Mcp-Session-Id"
	ProtocolVersionHeader = "MCP-Protocol-Version"
)

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ID is a JSON-RPC identifier: a string or a number. The zero ID is absent.
type ID struct {
	str   string
	num   float64
	isNum bool
	set   bool
}

// NewID returns a numeric identifier.
func NewID(n int64) ID {
	return ID{num: float64(n), isNum: true, set: true}
}

// StringID returns a string identifier.
func StringID(s string) ID {
	return ID{str: s, set: true}
}

// IsZero reports whether the identifier is absent.
func (id ID) IsZero() bool {
	return !id.set
}

func (id ID) String() string {
	if !id.set {
		return ""
	}
	if id.isNum {
		return strconv.FormatFloat(id.num, 'f', -1, 64)
	}
	return id.str
}

// Key returns a map key that keeps 1 and "1" distinct.
func (id ID) Key() string {
	if id.isNum {
		return "n:" + id.String()
	}
	return "s:" + id.str
}

// keyLabel recovers the printable identifier from a Key value.
func keyLabel(key string) string {
	if len(key) < 2 {
		return key
	}
	return key[2:]
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.set {
		return []byte("null"), nil
	}
	if id.isNum {
		return []byte(id.String()), nil
	}
	return json.Marshal(id.str)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = ID{num: n, isNum: true, set: true}
	return nil
}

// Kind classifies a decoded message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is a JSON-RPC 2.0 envelope. Outbound messages carry Method; inbound
// responses carry Result or Error. A message without an ID is a notification.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// HasID reports whether the message carries an identifier.
func (m *Message) HasID() bool {
	return m.ID != nil && !m.ID.IsZero()
}

// Kind reports whether m is a request, notification or response.
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.HasID():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.HasID() && (m.Result != nil || m.Error != nil):
		return KindResponse
	default:
		return KindInvalid
	}
}

// NewRequest builds a request with the given id. params may be nil.
func NewRequest(id ID, method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a message with no identifier.
func NewNotification(method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		return data, nil
	}
}

// DecodeMessages decodes a single JSON document or a JSON array of documents.
func DecodeMessages(data []byte) ([]*Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var batch []*Message
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, err
		}
		out := batch[:0]
		for _, m := range batch {
			if m != nil {
				out = append(out, m)
			}
		}
		return out, nil
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return []*Message{&msg}, nil
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel buffer.
	// Default: 100
	RecvBufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 100,
	}
}
