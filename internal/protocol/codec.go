// Package protocol implements the chat wire format: a 13 byte header
// (type, sender id, receiver id, payload size, all integers big endian)
// followed by the raw payload.
package protocol

import (
	"encoding/binary"
)

const (
	// HeaderSize is 1 byte type + 3 * 4 byte big endian integers
	HeaderSize = 13

	// DefaultMaxPayloadSize is the largest payload a server accepts by default
	DefaultMaxPayloadSize = 64 * 1024
)

// Serialize encodes msg into a single frame
func Serialize(msg *Message) []byte {
	buf := make([]byte, HeaderSize+len(msg.Payload))
	buf[0] = byte(msg.Type)
	binary.BigEndian.PutUint32(buf[1:5], msg.SenderID)
	binary.BigEndian.PutUint32(buf[5:9], msg.ReceiverID)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(msg.Payload)))
	copy(buf[HeaderSize:], msg.Payload)
	return buf
}

// Deserialize decodes the first frame in buf. It returns (nil, 0) while buf
// does not yet hold a complete frame. Otherwise it returns the message and
// the exact number of bytes the frame occupies. buf is never modified and
// the returned payload does not share memory with it.
func Deserialize(buf []byte) (*Message, int) {
	size, ok := PeekPayloadSize(buf)
	if !ok {
		return nil, 0
	}

	if uint64(len(buf)) < HeaderSize+uint64(size) {
		return nil, 0
	}
	total := HeaderSize + int(size)

	payload := make([]byte, size)
	copy(payload, buf[HeaderSize:total])

	return &Message{
		Type:       MessageType(buf[0]),
		SenderID:   binary.BigEndian.Uint32(buf[1:5]),
		ReceiverID: binary.BigEndian.Uint32(buf[5:9]),
		Payload:    payload,
	}, total
}

// PeekPayloadSize returns the payload size announced by the header at the
// front of buf, or false if the header is not complete yet.
func PeekPayloadSize(buf []byte) (uint32, bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[9:13]), true
}
