package proto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// PacketIDSize is the truncated digest length used for dedup and sync.
const PacketIDSize = 16

// PacketID identifies a packet across relay hops. It is derived only from
// fields that never mutate in transit; TTL, route and signature are excluded
// so the ID survives relaying.
type PacketID [PacketIDSize]byte

func (id PacketID) Hex() string { return hex.EncodeToString(id[:]) }

// IDOf computes the packet's identity digest.
func IDOf(p *Packet) PacketID {
	h := sha256.New()
	var hdr [11]byte
	hdr[0] = byte(p.Type)
	binary.BigEndian.PutUint64(hdr[1:9], p.Timestamp)
	binary.BigEndian.PutUint16(hdr[9:11], uint16(len(p.Payload)))
	h.Write(hdr[:])
	h.Write(p.SenderID[:])
	h.Write(p.Payload)
	var id PacketID
	copy(id[:], h.Sum(nil)[:PacketIDSize])
	return id
}

// SigningBytes returns the byte string a packet signature covers: the stable
// identity fields plus the recipient, which is fixed at origin. TTL, route
// and the RSR bit are excluded because relays rewrite them.
func SigningBytes(p *Packet) []byte {
	out := make([]byte, 0, 10+2*SenderIDSize+len(p.Payload))
	out = append(out, p.Version, byte(p.Type))
	out = binary.BigEndian.AppendUint64(out, p.Timestamp)
	out = append(out, p.SenderID[:]...)
	if p.Recipient != nil {
		out = append(out, p.Recipient[:]...)
	}
	out = append(out, p.Payload...)
	return out
}
