// Package noiseconn secures a raw byte stream with a Noise XX handshake and
// per-message AEAD frames. The gossip core never sees this package; it is
// the transport's concern.
package noiseconn

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
)

const (
	// maxFrameLen caps a single encrypted frame on the wire.
	maxFrameLen = 65535

	xxMessages = 3
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Keypair is a static Noise identity.
type Keypair = noise.DHKey

// GenerateKeypair creates a fresh static keypair.
func GenerateKeypair() (Keypair, error) {
	return cipherSuite.GenerateKeypair(rand.Reader)
}

// Conn wraps an underlying stream with the cipher states of a completed
// handshake. Reads and writes move whole encrypted frames.
type Conn struct {
	underlying io.ReadWriteCloser

	readCS  *noise.CipherState
	writeCS *noise.CipherState

	// RemoteStatic is the peer's static public key, authenticated by XX.
	RemoteStatic []byte

	leftover []byte
}

// Secure runs the Noise XX handshake over underlying and returns the secured
// connection. The initiator writes first; messages alternate until the
// pattern completes.
func Secure(underlying io.ReadWriteCloser, static Keypair, initiator bool) (*Conn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, err
	}

	var cs1, cs2 *noise.CipherState
	sending := initiator
	for i := 0; i < xxMessages; i++ {
		if sending {
			var msg []byte
			msg, cs1, cs2, err = hs.WriteMessage(nil, nil)
			if err != nil {
				return nil, err
			}
			if err := writeFrame(underlying, msg); err != nil {
				return nil, err
			}
		} else {
			frame, err := readFrame(underlying)
			if err != nil {
				return nil, err
			}
			if _, cs1, cs2, err = hs.ReadMessage(nil, frame); err != nil {
				return nil, err
			}
		}
		sending = !sending
	}

	c := &Conn{underlying: underlying, RemoteStatic: hs.PeerStatic()}
	// The initiator encrypts with the first cipher state, the responder
	// with the second; read sides mirror that.
	if initiator {
		c.writeCS, c.readCS = cs1, cs2
	} else {
		c.writeCS, c.readCS = cs2, cs1
	}
	return c, nil
}

// Read returns plaintext from the stream, decrypting a new frame when the
// previous one is fully consumed.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}

	ct, err := readFrame(c.underlying)
	if err != nil {
		return 0, err
	}
	pt, err := c.readCS.Decrypt(nil, nil, ct)
	if err != nil {
		return 0, fmt.Errorf("noiseconn: decrypt: %w", err)
	}
	n := copy(p, pt)
	if n < len(pt) {
		c.leftover = append(c.leftover[:0], pt[n:]...)
	}
	return n, nil
}

// Write encrypts p as one frame. Oversized writes are split.
func (c *Conn) Write(p []byte) (int, error) {
	const chunk = maxFrameLen - 64 // headroom for the AEAD tag
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > chunk {
			n = chunk
		}
		ct, err := c.writeCS.Encrypt(nil, nil, p[:n])
		if err != nil {
			return total, err
		}
		if err := writeFrame(c.underlying, ct); err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

func (c *Conn) Close() error { return c.underlying.Close() }

func writeFrame(w io.Writer, msg []byte) error {
	if len(msg) > maxFrameLen {
		return errors.New("noiseconn: frame too long")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return nil, errors.New("noiseconn: zero-length frame")
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
