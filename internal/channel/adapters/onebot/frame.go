package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Response statuses defined by OneBot v11.
const (
	StatusOK     = "ok"
	StatusAsync  = "async"
	StatusFailed = "failed"
)

// ID is an identifier that gateways send either as a JSON string or a number.
type ID string

// UnmarshalJSON accepts strings, numbers, and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("onebot: invalid id %s", data)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// ActionRequest is an outbound action frame.
type ActionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

// ActionResponse is the reply to an action, over either transport.
type ActionResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
	Echo    ID              `json:"echo,omitempty"`
}

// Err returns an ActionFailedError when the gateway reported failure.
func (r ActionResponse) Err() error {
	return r.errFor("")
}

func (r ActionResponse) errFor(action string) error {
	if !strings.EqualFold(r.Status, StatusFailed) {
		return nil
	}
	msg := strings.TrimSpace(r.Wording)
	if msg == "" {
		msg = strings.TrimSpace(r.Message)
	}
	return &ActionFailedError{Action: action, Retcode: r.Retcode, Message: msg}
}

// Decode unmarshals the response data into v.
func (r ActionResponse) Decode(v any) error {
	if len(r.Data) == 0 || bytes.Equal(r.Data, []byte("null")) {
		return fmt.Errorf("onebot: response carries no data")
	}
	return json.Unmarshal(r.Data, v)
}

// EventSender is the sender block of a message event.
type EventSender struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// Event is an unsolicited payload identified by post_type.
type Event struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	SubType     string          `json:"sub_type"`
	MessageID   ID              `json:"message_id"`
	UserID      ID              `json:"user_id"`
	SelfID      ID              `json:"self_id"`
	Time        int64           `json:"time"`
	Message     json.RawMessage `json:"message"`
	RawMessage  string          `json:"raw_message"`
	Sender      EventSender     `json:"sender"`
	// Raw holds the frame exactly as received.
	Raw json.RawMessage `json:"-"`
}

// LoginInfo is the data of a get_login_info response.
type LoginInfo struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
}

// FrameKind tags a decoded inbound frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameEvent
	FrameResponse
)

func (k FrameKind) String() string {
	switch k {
	case FrameEvent:
		return "event"
	case FrameResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Frame is one decoded socket message. Exactly one of Event or Response is
// meaningful, according to Kind.
type Frame struct {
	Kind     FrameKind
	Event    Event
	Response ActionResponse
}

// DecodeFrame classifies a socket message. A post_type field marks an event;
// status, retcode, or echo marks a response. Anything else, including
// malformed JSON, yields ErrDecode.
func DecodeFrame(data []byte) (Frame, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if _, ok := probe["post_type"]; ok {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return Frame{}, fmt.Errorf("%w: event: %v", ErrDecode, err)
		}
		ev.Raw = append(json.RawMessage(nil), data...)
		return Frame{Kind: FrameEvent, Event: ev}, nil
	}
	_, hasStatus := probe["status"]
	_, hasRetcode := probe["retcode"]
	_, hasEcho := probe["echo"]
	if hasStatus || hasRetcode || hasEcho {
		var resp ActionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return Frame{}, fmt.Errorf("%w: response: %v", ErrDecode, err)
		}
		return Frame{Kind: FrameResponse, Response: resp}, nil
	}
	return Frame{}, ErrDecode
}
