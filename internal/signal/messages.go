package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// ErrUnsupportedMessageType distinguishes a well-formed message of a type
// this node does not speak from outright malformed input.
var ErrUnsupportedMessageType = errors.New("unsupported message type")

type MessageType string

const (
	MessageTypeOffer            MessageType = "offer"
	MessageTypeAnswer           MessageType = "answer"
	MessageTypeCandidate        MessageType = "ice-candidate"
	MessageTypeCallEnded        MessageType = "call-ended"
	MessageTypeGroupCallStarted MessageType = "group-call-started"
	MessageTypeGroupCallJoined  MessageType = "group-call-joined"
	MessageTypeGroupCallEnded   MessageType = "group-call-ended"
)

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func ParseCallType(raw string) (CallType, error) {
	switch CallType(raw) {
	case CallTypeAudio:
		return CallTypeAudio, nil
	case CallTypeVideo:
		return CallTypeVideo, nil
	default:
		return "", fmt.Errorf("unsupported call type %q", raw)
	}
}

// SessionDescription is a minimal JSON-friendly SDP representation. The type
// field is "offer" or "answer" to match the browser-side shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func DescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is one signaling event on the wire. Exactly one message type per
// event; optional fields are only populated for the types that carry them.
type Message struct {
	Type MessageType `json:"type"`

	SenderID    string   `json:"senderId,omitempty"`
	TargetID    string   `json:"targetId,omitempty"`
	ContactType string   `json:"contactType,omitempty"`
	CallKey     CallKey  `json:"callKey,omitempty"`
	CallType    CallType `json:"callType,omitempty"`

	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`

	// Group room events.
	RoomID      string `json:"roomId,omitempty"`
	StarterID   string `json:"starterId,omitempty"`
	StarterName string `json:"starterName,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// EncodeMessage validates and marshals a message for the wire.
func EncodeMessage(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// ParseMessage decodes and validates a single wire message. Unknown fields and
// trailing data are rejected.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case MessageTypeOffer:
		if err := m.validatePeerFields(); err != nil {
			return err
		}
		if m.SDP == nil {
			return fmt.Errorf("offer message missing sdp")
		}
		if m.SDP.Type != "offer" {
			return fmt.Errorf("offer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil || m.hasGroupFields() {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case MessageTypeAnswer:
		if err := m.validatePeerFields(); err != nil {
			return err
		}
		if m.SDP == nil {
			return fmt.Errorf("answer message missing sdp")
		}
		if m.SDP.Type != "answer" {
			return fmt.Errorf("answer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil || m.hasGroupFields() {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case MessageTypeCandidate:
		if err := m.validatePeerFields(); err != nil {
			return err
		}
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.SDP != nil || m.hasGroupFields() {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case MessageTypeCallEnded:
		if err := m.validatePeerFields(); err != nil {
			return err
		}
		if m.SDP != nil || m.Candidate != nil || m.hasGroupFields() {
			return fmt.Errorf("call-ended message has unexpected fields")
		}
	case MessageTypeGroupCallStarted:
		if m.RoomID == "" || m.StarterID == "" {
			return fmt.Errorf("group-call-started message missing roomId/starterId")
		}
		if _, err := ParseCallType(string(m.CallType)); err != nil {
			return fmt.Errorf("group-call-started: %w", err)
		}
		if m.SDP != nil || m.Candidate != nil || m.CallKey != "" || m.UserID != "" {
			return fmt.Errorf("group-call-started message has unexpected fields")
		}
	case MessageTypeGroupCallJoined, MessageTypeGroupCallEnded:
		if m.RoomID == "" || m.UserID == "" {
			return fmt.Errorf("%s message missing roomId/userId", m.Type)
		}
		if m.SDP != nil || m.Candidate != nil || m.CallKey != "" || m.StarterID != "" || m.StarterName != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedMessageType, m.Type)
	}
	return nil
}

func (m Message) validatePeerFields() error {
	if m.SenderID == "" || m.TargetID == "" {
		return fmt.Errorf("%s message missing senderId/targetId", m.Type)
	}
	if m.CallKey == "" {
		return fmt.Errorf("%s message missing callKey", m.Type)
	}
	if err := m.CallKey.Validate(); err != nil {
		return fmt.Errorf("%s message: %w", m.Type, err)
	}
	if _, err := ParseCallType(string(m.CallType)); err != nil {
		return fmt.Errorf("%s message: %w", m.Type, err)
	}
	return nil
}

func (m Message) hasGroupFields() bool {
	return m.RoomID != "" || m.StarterID != "" || m.StarterName != "" || m.UserID != ""
}
