package proto

import (
	"encoding/binary"
	"fmt"
)

// Type-class flags carried in a REQUEST_SYNC payload.
const (
	SyncMessages      = 1 << 0
	SyncFragments     = 1 << 1
	SyncFileTransfers = 1 << 2
	SyncAnnouncements = 1 << 3
)

// SyncRequest is the REQUEST_SYNC payload: the reconciliation filter the
// requester built over its own packet IDs, plus which type classes it wants.
//
// Layout: p(1) | modulus u32 BE | typeFlags(1) | filter bytes.
type SyncRequest struct {
	P         uint8
	Modulus   uint32
	TypeFlags uint8
	Filter    []byte
}

const syncRequestHeaderLen = 6

func (r *SyncRequest) Encode() []byte {
	out := make([]byte, 0, syncRequestHeaderLen+len(r.Filter))
	out = append(out, r.P)
	out = binary.BigEndian.AppendUint32(out, r.Modulus)
	out = append(out, r.TypeFlags)
	return append(out, r.Filter...)
}

func DecodeSyncRequest(b []byte) (*SyncRequest, error) {
	if len(b) < syncRequestHeaderLen {
		return nil, fmt.Errorf("%w: sync request payload %d bytes", ErrMalformed, len(b))
	}
	return &SyncRequest{
		P:         b[0],
		Modulus:   binary.BigEndian.Uint32(b[1:5]),
		TypeFlags: b[5],
		Filter:    append([]byte(nil), b[6:]...),
	}, nil
}

// AnnouncePayload is what an announce packet carries: a display name and the
// sender's ed25519 verification key.
//
// Layout: nickLen(1) | nick | signPub(32).
type AnnouncePayload struct {
	Nickname string
	SignPub  []byte
}

const announceKeyLen = 32

func (a *AnnouncePayload) Encode() ([]byte, error) {
	if len(a.Nickname) > 255 {
		return nil, fmt.Errorf("%w: nickname too long", ErrEncodeFailed)
	}
	if len(a.SignPub) != announceKeyLen {
		return nil, fmt.Errorf("%w: sign key is %d bytes, want %d", ErrEncodeFailed, len(a.SignPub), announceKeyLen)
	}
	out := make([]byte, 0, 1+len(a.Nickname)+announceKeyLen)
	out = append(out, byte(len(a.Nickname)))
	out = append(out, a.Nickname...)
	return append(out, a.SignPub...), nil
}

func DecodeAnnouncePayload(b []byte) (*AnnouncePayload, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty announce payload", ErrMalformed)
	}
	n := int(b[0])
	if len(b) != 1+n+announceKeyLen {
		return nil, fmt.Errorf("%w: announce payload %d bytes, want %d", ErrMalformed, len(b), 1+n+announceKeyLen)
	}
	return &AnnouncePayload{
		Nickname: string(b[1 : 1+n]),
		SignPub:  append([]byte(nil), b[1+n:]...),
	}, nil
}
