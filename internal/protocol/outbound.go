package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
)

// Outbound is a server to client message. Type is rendered as the "type" field.
type Outbound interface {
	Type() string
}

type RoomCreated struct {
	RoomID         domain.RoomID  `json:"roomId"`
	Slug           domain.Slug    `json:"slug"`
	Name           string         `json:"name"`
	SourceLanguage languages.Code `json:"sourceLanguage"`
	TargetLanguage languages.Code `json:"targetLanguage"`
	Direction      string         `json:"direction"`
}

type Joined struct {
	RoomID         domain.RoomID  `json:"roomId"`
	Role           domain.Role    `json:"role"`
	ListenerCount  int            `json:"listenerCount"`
	RoomName       string         `json:"roomName"`
	SourceLanguage languages.Code `json:"sourceLanguage"`
	TargetLanguage languages.Code `json:"targetLanguage"`
	Direction      string         `json:"direction"`
}

// Transcript is delivered per listener language. Audio is base64 encoded by
// encoding/json and omitted when synthesis is unavailable or timed out.
type Transcript struct {
	Source     string `json:"source"`
	Translated string `json:"translated"`
	IsFinal    bool   `json:"isFinal"`
	Timestamp  int64  `json:"timestamp"`
	Audio      []byte `json:"audio,omitempty"`
}

type ListenerCount struct {
	Count int `json:"count"`
}

type BroadcastStarted struct{}

type BroadcastEnded struct{}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Pong struct{}

type UsageWarning struct {
	MinutesRemaining int `json:"minutesRemaining"`
}

type BroadcastStopped struct {
	Reason string `json:"reason"`
}

// ReasonRoomDeleted stops a broadcast whose room the owner deleted.
const ReasonRoomDeleted = "ROOM_DELETED"

type Answer struct {
	SDP string `json:"sdp"`
}

type LocalCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

func (RoomCreated) Type() string      { return "room_created" }
func (Joined) Type() string           { return "joined" }
func (Transcript) Type() string       { return "transcript" }
func (ListenerCount) Type() string    { return "listener_count" }
func (BroadcastStarted) Type() string { return "broadcast_started" }
func (BroadcastEnded) Type() string   { return "broadcast_ended" }
func (Error) Type() string            { return "error" }
func (Pong) Type() string             { return "pong" }
func (UsageWarning) Type() string     { return "usage_warning" }
func (BroadcastStopped) Type() string { return "broadcast_stopped" }
func (Answer) Type() string           { return "answer" }
func (LocalCandidate) Type() string   { return "candidate" }

// ErrorFrom renders any error with its stable code.
func ErrorFrom(err error) Error {
	return Error{Code: domain.CodeOf(err), Message: err.Error()}
}

// Encode marshals m and splices the "type" field into the object.
func Encode(m Outbound) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(m.Type())

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
