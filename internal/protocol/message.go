package protocol

import "fmt"

// MessageType is the one-byte tag at the start of every frame
type MessageType uint8

// Client to server
const (
	TypeJoin            MessageType = 0x01
	TypeBroadcast       MessageType = 0x02
	TypePrivate         MessageType = 0x03
	TypeLeave           MessageType = 0x04
	TypeUserListRequest MessageType = 0x05
)

// Server to client
const (
	TypeJoinSuccess     MessageType = 0x81
	TypeJoinFailure     MessageType = 0x82
	TypeServerBroadcast MessageType = 0x83
	TypeServerPrivate   MessageType = 0x84
	TypeUserJoined      MessageType = 0x85
	TypeUserLeft        MessageType = 0x86
	TypeError           MessageType = 0x87
	TypeUserList        MessageType = 0x88
	TypeServerShutdown  MessageType = 0x89
)

// Reserved identities. ServerID and BroadcastID share the value 0.
const (
	ServerID    uint32 = 0
	BroadcastID uint32 = 0
	InvalidID   uint32 = 0xFFFFFFFF
)

var typeNames = map[MessageType]string{
	TypeJoin:            "JOIN",
	TypeBroadcast:       "BROADCAST",
	TypePrivate:         "PRIVATE",
	TypeLeave:           "LEAVE",
	TypeUserListRequest: "USER_LIST_REQUEST",
	TypeJoinSuccess:     "JOIN_SUCCESS",
	TypeJoinFailure:     "JOIN_FAILURE",
	TypeServerBroadcast: "S2C_BROADCAST",
	TypeServerPrivate:   "S2C_PRIVATE",
	TypeUserJoined:      "USER_JOINED",
	TypeUserLeft:        "USER_LEFT",
	TypeError:           "ERROR",
	TypeUserList:        "USER_LIST",
	TypeServerShutdown:  "SERVER_SHUTDOWN",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
}

// IsValid reports whether t is one of the known tags
func (t MessageType) IsValid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsClientType reports whether t is sent by clients to the server
func (t MessageType) IsClientType() bool {
	return t.IsValid() && t < 0x80
}

// Message is one protocol frame
type Message struct {
	Type       MessageType
	SenderID   uint32
	ReceiverID uint32
	Payload    []byte
}

// NewMessage builds a message carrying a text payload
func NewMessage(t MessageType, sender, receiver uint32, text string) *Message {
	return &Message{
		Type:       t,
		SenderID:   sender,
		ReceiverID: receiver,
		Payload:    []byte(text),
	}
}

// Text returns the payload as a string
func (m *Message) Text() string {
	return string(m.Payload)
}

func (m *Message) String() string {
	return fmt.Sprintf("%s from=%d to=%d size=%d", m.Type, m.SenderID, m.ReceiverID, len(m.Payload))
}
