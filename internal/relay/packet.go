package relay

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ServerRecipient is the sole recipient that turns a controller packet into a directory command.
const ServerRecipient = "server"

// Packet is the JSON envelope exchanged with peers.
//
// Framing: every socket read is treated as exactly one packet document,
// optionally followed by a newline. There is no length prefix and nothing is
// buffered across reads, so a packet split over two TCP segments (or two
// packets coalesced into one) is not recovered. Writers flush each packet
// with a trailing newline in a single write.
type Packet struct {
	Receivers []string `json:"receivers"`
	Body      string   `json:"body"`
	ID        string   `json:"id"`
}

// wirePacket uses pointers so missing fields can be told apart from empty ones
type wirePacket struct {
	Receivers *[]string `json:"receivers"`
	Body      *string   `json:"body"`
	ID        *string   `json:"id"`
}

// NewPacket creates a packet with a freshly generated correlation id.
func NewPacket(receivers []string, body string) Packet {
	return NewPacketWithID(receivers, body, uuid.NewString())
}

// NewPacketWithID creates a packet carrying the given correlation id.
func NewPacketWithID(receivers []string, body, id string) Packet {
	if receivers == nil {
		receivers = []string{}
	}
	return Packet{Receivers: receivers, Body: body, ID: id}
}

// IsCommand reports whether the packet is addressed solely to the server.
func (p Packet) IsCommand() bool {
	return len(p.Receivers) == 1 && p.Receivers[0] == ServerRecipient
}

// Encode serializes the packet as a JSON object with keys receivers, body and id.
func (p Packet) Encode() ([]byte, error) {
	if p.Receivers == nil {
		p.Receivers = []string{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode packet: %w", err)
	}
	return data, nil
}

// DecodePacket parses one packet document. Invalid JSON or a missing field
// yields an error wrapping ErrMalformedPacket.
func DecodePacket(data []byte) (Packet, error) {
	var wire wirePacket
	if err := json.Unmarshal(data, &wire); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	switch {
	case wire.Receivers == nil:
		return Packet{}, fmt.Errorf("%w: missing field %q", ErrMalformedPacket, "receivers")
	case wire.Body == nil:
		return Packet{}, fmt.Errorf("%w: missing field %q", ErrMalformedPacket, "body")
	case wire.ID == nil:
		return Packet{}, fmt.Errorf("%w: missing field %q", ErrMalformedPacket, "id")
	}

	return Packet{Receivers: *wire.Receivers, Body: *wire.Body, ID: *wire.ID}, nil
}
