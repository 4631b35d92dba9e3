// Package protocol defines the JSON messages exchanged over the realtime
// socket. Inbound and outbound sets are closed: every kind is a concrete type.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/Beacon/internal/domain"
)

// Inbound is implemented only by the client message types in this file.
type Inbound interface {
	inbound()
}

type CreateRoom struct {
	Name           string `json:"name,omitempty"`
	Slug           string `json:"slug,omitempty"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	Direction      string `json:"direction,omitempty"` // legacy "es-to-en"
}

type JoinRoom struct {
	RoomID         string `json:"roomId"` // id or slug
	Role           string `json:"role"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

type EndBroadcast struct{}

type Ping struct{}

// Offer starts WebRTC audio ingest for a broadcaster.
type Offer struct {
	SDP string `json:"sdp"`
}

type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

func (CreateRoom) inbound()   {}
func (JoinRoom) inbound()     {}
func (EndBroadcast) inbound() {}
func (Ping) inbound()         {}
func (Offer) inbound()        {}
func (Candidate) inbound()    {}

// Decode parses one text frame. Malformed JSON yields ErrInvalidMessage and an
// unrecognised type yields ErrUnknownMessage.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, domain.ErrInvalidMessage
	}

	var msg Inbound
	switch env.Type {
	case "create_room":
		var m CreateRoom
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, domain.ErrInvalidMessage
		}
		msg = m
	case "join_room":
		var m JoinRoom
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, domain.ErrInvalidMessage
		}
		msg = m
	case "end_broadcast":
		msg = EndBroadcast{}
	case "ping":
		msg = Ping{}
	case "offer":
		var m Offer
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, domain.ErrInvalidMessage
		}
		msg = m
	case "candidate":
		var m Candidate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, domain.ErrInvalidMessage
		}
		msg = m
	default:
		return nil, domain.ErrUnknownMessage
	}
	return msg, nil
}
