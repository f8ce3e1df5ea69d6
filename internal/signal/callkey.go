package signal

import (
	"fmt"
	"strings"
)

// CallKey identifies a conversation context: a one-to-one pair, a mentor-user
// pair, or one pairwise leg of a group room. At most one active call session
// may exist per CallKey.
//
// Two forms are valid on the wire:
//
//	{contextType}_{contextId}     e.g. "user-mentor_42"
//	room:{roomId}:{peerId}        one mesh leg of a group room
type CallKey string

const (
	ContactTypeGroup      = "group"
	ContactTypeUserMentor = "user-mentor"
	ContactTypeUserUser   = "user-user"

	roomKeyPrefix = "room:"
)

// NewCallKey builds a conversation call key from a contact type and context ID.
func NewCallKey(contactType, contextID string) (CallKey, error) {
	switch contactType {
	case ContactTypeGroup, ContactTypeUserMentor, ContactTypeUserUser:
	default:
		return "", fmt.Errorf("unsupported contact type %q", contactType)
	}
	if contextID == "" {
		return "", fmt.Errorf("context id must not be empty")
	}
	return CallKey(contactType + "_" + contextID), nil
}

// RoomPairKey returns the pairwise call key for one mesh leg of a group room.
func RoomPairKey(roomID, peerID string) CallKey {
	return CallKey(roomKeyPrefix + roomID + ":" + peerID)
}

func (k CallKey) Validate() error {
	s := string(k)
	if s == "" {
		return fmt.Errorf("call key must not be empty")
	}
	if strings.HasPrefix(s, roomKeyPrefix) {
		roomID, peerID, ok := strings.Cut(s[len(roomKeyPrefix):], ":")
		if !ok || roomID == "" || peerID == "" {
			return fmt.Errorf("invalid room call key %q", s)
		}
		return nil
	}
	contactType, contextID, ok := strings.Cut(s, "_")
	if !ok || contextID == "" {
		return fmt.Errorf("invalid call key %q", s)
	}
	switch contactType {
	case ContactTypeGroup, ContactTypeUserMentor, ContactTypeUserUser:
		return nil
	default:
		return fmt.Errorf("invalid call key %q: unsupported contact type %q", s, contactType)
	}
}

// RoomID returns the room a pairwise room key belongs to, if any.
func (k CallKey) RoomID() (string, bool) {
	s := string(k)
	if !strings.HasPrefix(s, roomKeyPrefix) {
		return "", false
	}
	roomID, peerID, ok := strings.Cut(s[len(roomKeyPrefix):], ":")
	if !ok || roomID == "" || peerID == "" {
		return "", false
	}
	return roomID, true
}

// MediaOwnerKey returns the key under which the local media stream is leased
// for this call. All pairwise legs of one room share a single hardware stream,
// so they map to the same owner; everything else owns media per call key.
func (k CallKey) MediaOwnerKey() string {
	if roomID, ok := k.RoomID(); ok {
		return roomKeyPrefix + roomID
	}
	return string(k)
}

// ContactType returns the contact type of a conversation key, or "group" for
// pairwise room keys.
func (k CallKey) ContactType() string {
	if _, ok := k.RoomID(); ok {
		return ContactTypeGroup
	}
	contactType, _, ok := strings.Cut(string(k), "_")
	if !ok {
		return ""
	}
	return contactType
}
