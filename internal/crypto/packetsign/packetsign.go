// Package packetsign provides the opaque sign/verify capability the sync
// engine consumes: ed25519 over a packet's relay-invariant fields, with
// sender IDs bound to verification keys via a digest.
package packetsign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"sync"

	"meshnode/internal/proto"
)

var ErrKeyMismatch = errors.New("packetsign: key does not match sender ID")

// Identity is a node's signing keypair plus its derived sender ID.
type Identity struct {
	Priv   ed25519.PrivateKey
	Pub    ed25519.PublicKey
	Sender proto.SenderID
}

func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{Priv: priv, Pub: pub, Sender: SenderIDFromPub(pub)}, nil
}

// SenderIDFromPub derives the canonical 8-byte sender ID from a public key.
func SenderIDFromPub(pub ed25519.PublicKey) proto.SenderID {
	sum := sha256.Sum256(pub)
	var id proto.SenderID
	copy(id[:], sum[:proto.SenderIDSize])
	return id
}

// Sign returns a copy of pkt carrying a signature over its stable fields.
func (id *Identity) Sign(pkt *proto.Packet) (*proto.Packet, error) {
	if pkt.SenderID != id.Sender {
		return nil, ErrKeyMismatch
	}
	out := pkt.Clone()
	out.Signature = ed25519.Sign(id.Priv, proto.SigningBytes(out))
	return out, nil
}

// Registry maps sender IDs to verification keys learned from announces.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	keys map[proto.SenderID]ed25519.PublicKey
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[proto.SenderID]ed25519.PublicKey)}
}

// Learn records a sender's key after checking the digest binding.
func (r *Registry) Learn(sender proto.SenderID, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize || SenderIDFromPub(pub) != sender {
		return ErrKeyMismatch
	}
	r.mu.Lock()
	r.keys[sender] = pub
	r.mu.Unlock()
	return nil
}

// Verify checks a packet's signature. Announce packets self-certify: the key
// rides in the payload, must hash to the sender ID, and is learned on
// success. All other packets need a previously learned key.
func (r *Registry) Verify(pkt *proto.Packet) bool {
	if len(pkt.Signature) != proto.SignatureSize {
		return false
	}

	if pkt.Type == proto.TypeAnnounce {
		ap, err := proto.DecodeAnnouncePayload(pkt.Payload)
		if err != nil {
			return false
		}
		pub := ed25519.PublicKey(ap.SignPub)
		if SenderIDFromPub(pub) != pkt.SenderID {
			return false
		}
		if !ed25519.Verify(pub, proto.SigningBytes(pkt), pkt.Signature) {
			return false
		}
		_ = r.Learn(pkt.SenderID, pub)
		return true
	}

	r.mu.RLock()
	pub, ok := r.keys[pkt.SenderID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(pub, proto.SigningBytes(pkt), pkt.Signature)
}
