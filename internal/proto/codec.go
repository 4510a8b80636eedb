package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrEncodeFailed   = errors.New("proto: encode failed")
	ErrMalformed      = errors.New("proto: malformed frame")
	ErrUnknownVersion = errors.New("proto: unknown frame version")

	// ErrShortHeader is returned by FrameLength while the prefix is still too
	// short to determine the frame's total length.
	ErrShortHeader = errors.New("proto: incomplete header")
)

// MinHeaderLen is the fixed prefix every frame starts with:
// version, type, flags, ttl, timestamp, senderID.
const MinHeaderLen = 4 + 8 + SenderIDSize

// paddingBlocks are the sizes payloads are padded up to when padding is
// requested. Payloads larger than the last block go out unpadded.
var paddingBlocks = []int{256, 512, 1024, 2048}

// Encode serializes p. When pad is true the payload is extended to the next
// standard block size; the padding is not reconstructible on decode.
func Encode(p *Packet, pad bool) ([]byte, error) {
	payload := p.Payload
	flags := uint8(0)
	if p.Recipient != nil {
		flags |= FlagHasRecipient
	}
	if len(p.Signature) > 0 {
		if len(p.Signature) != SignatureSize {
			return nil, fmt.Errorf("%w: signature is %d bytes, want %d", ErrEncodeFailed, len(p.Signature), SignatureSize)
		}
		flags |= FlagHasSignature
	}
	if p.IsRSR {
		flags |= FlagIsRSR
	}
	if len(p.Route) > 0 {
		if len(p.Route) > 255 {
			return nil, fmt.Errorf("%w: route too long", ErrEncodeFailed)
		}
		flags |= FlagHasRoute
	}
	if pad {
		if padded := padPayload(payload); padded != nil {
			payload = padded
			flags |= FlagHasPadding
		}
	}
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrEncodeFailed, len(payload), MaxPayloadLen)
	}

	size := MinHeaderLen
	if flags&FlagHasRecipient != 0 {
		size += SenderIDSize
	}
	if flags&FlagHasRoute != 0 {
		size += 1 + len(p.Route)*SenderIDSize
	}
	size += 2 + len(payload)
	if flags&FlagHasSignature != 0 {
		size += SignatureSize
	}

	buf := make([]byte, 0, size)
	buf = append(buf, Version, byte(p.Type), flags, p.TTL)
	buf = binary.BigEndian.AppendUint64(buf, p.Timestamp)
	buf = append(buf, p.SenderID[:]...)
	if flags&FlagHasRecipient != 0 {
		buf = append(buf, p.Recipient[:]...)
	}
	if flags&FlagHasRoute != 0 {
		buf = append(buf, byte(len(p.Route)))
		for _, hop := range p.Route {
			buf = append(buf, hop[:]...)
		}
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	if flags&FlagHasSignature != 0 {
		buf = append(buf, p.Signature...)
	}
	return buf, nil
}

// Decode parses a complete frame. It rejects unknown versions and never reads
// past the declared payload length; trailing garbage after the frame is an
// error (framing is the stream assembler's job).
func Decode(b []byte) (*Packet, error) {
	want, err := FrameLength(b)
	if err != nil {
		if errors.Is(err, ErrShortHeader) {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
		}
		return nil, err
	}
	if len(b) < want {
		return nil, fmt.Errorf("%w: have %d bytes, frame declares %d", ErrMalformed, len(b), want)
	}
	if len(b) > want {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b)-want)
	}

	p := &Packet{
		Version:   b[0],
		Type:      PacketType(b[1]),
		TTL:       b[3],
		Timestamp: binary.BigEndian.Uint64(b[4:12]),
	}
	flags := b[2]
	p.IsRSR = flags&FlagIsRSR != 0
	copy(p.SenderID[:], b[12:12+SenderIDSize])

	off := MinHeaderLen
	if flags&FlagHasRecipient != 0 {
		var r SenderID
		copy(r[:], b[off:off+SenderIDSize])
		p.Recipient = &r
		off += SenderIDSize
	}
	if flags&FlagHasRoute != 0 {
		n := int(b[off])
		off++
		p.Route = make([]SenderID, n)
		for i := 0; i < n; i++ {
			copy(p.Route[i][:], b[off:off+SenderIDSize])
			off += SenderIDSize
		}
	}
	payloadLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	p.Payload = append([]byte(nil), b[off:off+payloadLen]...)
	off += payloadLen
	if flags&FlagHasSignature != 0 {
		p.Signature = append([]byte(nil), b[off:off+SignatureSize]...)
	}

	if flags&FlagHasPadding != 0 {
		stripped, err := unpadPayload(p.Payload)
		if err != nil {
			return nil, err
		}
		p.Payload = stripped
	}
	return p, nil
}

// FrameLength inspects a frame prefix and returns the total frame length it
// declares. It returns ErrShortHeader while more bytes are needed,
// ErrUnknownVersion if the first byte is not a version this implementation
// speaks, and ErrMalformed for structurally impossible headers.
func FrameLength(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, ErrShortHeader
	}
	if b[0] != Version {
		return 0, ErrUnknownVersion
	}
	if len(b) < MinHeaderLen {
		return 0, ErrShortHeader
	}
	flags := b[2]
	off := MinHeaderLen
	if flags&FlagHasRecipient != 0 {
		off += SenderIDSize
	}
	if flags&FlagHasRoute != 0 {
		if len(b) < off+1 {
			return 0, ErrShortHeader
		}
		off += 1 + int(b[off])*SenderIDSize
	}
	if len(b) < off+2 {
		return 0, ErrShortHeader
	}
	total := off + 2 + int(binary.BigEndian.Uint16(b[off:off+2]))
	if flags&FlagHasSignature != 0 {
		total += SignatureSize
	}
	return total, nil
}

func padPayload(payload []byte) []byte {
	target := 0
	for _, blk := range paddingBlocks {
		if len(payload) < blk {
			target = blk
			break
		}
	}
	if target == 0 {
		return nil
	}
	pad := target - len(payload)
	if pad > 255 {
		pad = 255
	}
	out := make([]byte, len(payload)+pad)
	copy(out, payload)
	for i := len(payload); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func unpadPayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: padded flag on empty payload", ErrMalformed)
	}
	pad := int(payload[len(payload)-1])
	if pad == 0 || pad > len(payload) {
		return nil, fmt.Errorf("%w: bad pad count %d", ErrMalformed, pad)
	}
	return payload[:len(payload)-pad], nil
}
