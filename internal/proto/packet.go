// Package proto defines the mesh packet model and its binary wire format.
//
// Frame layout (all multi-byte integers big-endian):
//
//	version(1) | type(1) | flags(1) | ttl(1) | timestamp_ms(8) | senderID(8)
//	| recipientID(8)        if flags&FlagHasRecipient
//	| routeCount(1) + 8*N   if flags&FlagHasRoute
//	| payloadLen(2) | payload
//	| signature(64)         if flags&FlagHasSignature
//
// The layout is frozen: interoperable implementations must reproduce it exactly.
// Padding, when requested at encode time, extends the payload to the next
// standard block size with PKCS#7-style fill and is stripped (and lost) on
// decode.
package proto

import "bytes"

type PacketType uint8

const (
	TypeAnnounce       PacketType = 0x01
	TypeLeave          PacketType = 0x03
	TypeMessage        PacketType = 0x04
	TypeFragment       PacketType = 0x05
	TypeFileTransfer   PacketType = 0x06
	TypeNoiseHandshake PacketType = 0x10
	TypeNoiseEncrypted PacketType = 0x11
	TypeRequestSync    PacketType = 0x21
)

func (t PacketType) String() string {
	switch t {
	case TypeAnnounce:
		return "announce"
	case TypeLeave:
		return "leave"
	case TypeMessage:
		return "message"
	case TypeFragment:
		return "fragment"
	case TypeFileTransfer:
		return "file_transfer"
	case TypeNoiseHandshake:
		return "noise_handshake"
	case TypeNoiseEncrypted:
		return "noise_encrypted"
	case TypeRequestSync:
		return "request_sync"
	}
	return "unknown"
}

const (
	// Version is the only frame version this implementation speaks.
	Version = 0x01

	SenderIDSize  = 8
	SignatureSize = 64

	// MaxPayloadLen is the largest payload the u16 length field can carry.
	MaxPayloadLen = 1<<16 - 1
)

// Flag bits in the frame's flags byte.
const (
	FlagHasRecipient = 1 << 0
	FlagHasSignature = 1 << 1
	FlagIsRSR        = 1 << 2
	FlagHasPadding   = 1 << 3
	FlagHasRoute     = 1 << 4
)

type SenderID [SenderIDSize]byte

// BroadcastRecipient is the reserved recipient meaning "all peers".
var BroadcastRecipient = SenderID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Packet is one mesh frame. TTL and Route mutate hop by hop; everything else
// is fixed at origin.
type Packet struct {
	Version   uint8
	Type      PacketType
	TTL       uint8
	Timestamp uint64 // ms since epoch
	SenderID  SenderID
	Recipient *SenderID // nil for undirected traffic
	Route     []SenderID
	Payload   []byte
	Signature []byte // empty or SignatureSize bytes
	IsRSR     bool   // solicited response to a prior REQUEST_SYNC
}

// IsBroadcast reports whether the packet is undirected: no recipient at all,
// or the broadcast sentinel.
func (p *Packet) IsBroadcast() bool {
	return p.Recipient == nil || *p.Recipient == BroadcastRecipient
}

// Clone returns a deep copy, used before per-hop mutation so stored packets
// keep their received TTL.
func (p *Packet) Clone() *Packet {
	out := *p
	if p.Recipient != nil {
		r := *p.Recipient
		out.Recipient = &r
	}
	out.Route = append([]SenderID(nil), p.Route...)
	out.Payload = append([]byte(nil), p.Payload...)
	out.Signature = append([]byte(nil), p.Signature...)
	return &out
}

// Equal compares all fields, including the mutable ones.
func (p *Packet) Equal(o *Packet) bool {
	if p.Version != o.Version || p.Type != o.Type || p.TTL != o.TTL ||
		p.Timestamp != o.Timestamp || p.SenderID != o.SenderID || p.IsRSR != o.IsRSR {
		return false
	}
	if (p.Recipient == nil) != (o.Recipient == nil) {
		return false
	}
	if p.Recipient != nil && *p.Recipient != *o.Recipient {
		return false
	}
	if len(p.Route) != len(o.Route) {
		return false
	}
	for i := range p.Route {
		if p.Route[i] != o.Route[i] {
			return false
		}
	}
	return bytes.Equal(p.Payload, o.Payload) && bytes.Equal(p.Signature, o.Signature)
}
