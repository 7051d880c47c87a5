package transport

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// OutboundKind discriminates events sent to the chat service.
type OutboundKind string

const (
	KindLogin       OutboundKind = "login"
	KindJoinRoom    OutboundKind = "join-room"
	KindStartTyping OutboundKind = "start-typing"
	KindSendMessage OutboundKind = "send-message"
)

// Outbound is a structured event headed for the chat service.
type Outbound struct {
	Kind     OutboundKind
	Username string
	Password string
	RoomName string
	RoomID   string
	Text     string
}

// Login builds the explicit login event sent right after the channel opens.
func Login(username, password string) Outbound {
	return Outbound{Kind: KindLogin, Username: username, Password: password}
}

// JoinRoom builds a join-room request for the named room.
func JoinRoom(name string) Outbound {
	return Outbound{Kind: KindJoinRoom, RoomName: name}
}

// StartTyping builds a typing indicator for the given room.
func StartTyping(roomID string) Outbound {
	return Outbound{Kind: KindStartTyping, RoomID: roomID}
}

// SendMessage builds a chat message for the given room.
func SendMessage(roomID, text string) Outbound {
	return Outbound{Kind: KindSendMessage, RoomID: roomID, Text: text}
}

// Wire handler names used by the chat service.
const (
	handlerLogin    = "login"
	handlerJoin     = "joinchatroom"
	handlerTyping   = "chatroomtyping"
	handlerMessage  = "chatroommessage"
	handlerMessage2 = "message"
)

// Encode renders an outbound event in the service's wire format.
func Encode(ev Outbound) ([]byte, error) {
	var pkt map[string]any
	switch ev.Kind {
	case KindLogin:
		pkt = map[string]any{
			"handler":  handlerLogin,
			"username": ev.Username,
			"password": ev.Password,
		}
	case KindJoinRoom:
		pkt = map[string]any{
			"handler":      handlerJoin,
			"id":           uuid.NewString(),
			"name":         ev.RoomName,
			"roomPassword": "",
		}
	case KindStartTyping:
		pkt = map[string]any{
			"handler": handlerTyping,
			"id":      uuid.NewString(),
			"roomid":  ev.RoomID,
		}
	case KindSendMessage:
		pkt = map[string]any{
			"handler": handlerMessage,
			"id":      uuid.NewString(),
			"type":    "text",
			"roomid":  ev.RoomID,
			"text":    ev.Text,
			"url":     "",
			"length":  strconv.Itoa(len([]rune(ev.Text))),
		}
	default:
		return nil, fmt.Errorf("unknown outbound kind %q", ev.Kind)
	}
	return json.Marshal(pkt)
}

// EventType discriminates inbound events.
type EventType int

const (
	// EventUnknown is any well-formed event the engine does not act on.
	EventUnknown EventType = iota
	// EventRoomJoined acknowledges a join and carries the room id.
	EventRoomJoined
	// EventMessage is a chat line from some sender.
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventRoomJoined:
		return "room-joined"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a decoded inbound event.
type Event struct {
	Type     EventType
	Handler  string
	RoomID   string
	RoomName string
	Sender   string
	Text     string
}

type wireEvent struct {
	Handler  string          `json:"handler"`
	RoomID   json.RawMessage `json:"roomid"`
	Name     string          `json:"name"`
	From     string          `json:"from"`
	Username string          `json:"username"`
	Text     string          `json:"text"`
	Body     string          `json:"body"`
}

// Decode parses one inbound payload. Payloads that are not JSON objects, or
// that claim a known type but lack its required fields, yield a
// *MalformedEventError.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, &MalformedEventError{Payload: truncate(data), Err: err}
	}

	ev := Event{Handler: w.Handler}
	switch w.Handler {
	case handlerJoin:
		roomID := rawString(w.RoomID)
		if roomID == "" {
			// Join echoes without a room id are requests, not acknowledgments.
			return ev, nil
		}
		ev.Type = EventRoomJoined
		ev.RoomID = roomID
		ev.RoomName = w.Name
	case handlerMessage, handlerMessage2:
		sender := firstNonEmpty(w.From, w.Username)
		text := firstNonEmpty(w.Text, w.Body)
		if sender == "" || text == "" {
			return Event{}, &MalformedEventError{Payload: truncate(data), Err: fmt.Errorf("message without sender or text")}
		}
		ev.Type = EventMessage
		ev.Sender = sender
		ev.Text = text
		ev.RoomID = rawString(w.RoomID)
	}
	return ev, nil
}

// rawString accepts a room id encoded as either a JSON string or number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte) string {
	const limit = 120
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
