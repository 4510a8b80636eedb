package mesh

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"meshnode/internal/crypto/noiseconn"
	"meshnode/internal/netx"
	"meshnode/internal/proto"
	"meshnode/internal/stream"
)

// peer is one live mesh link. Frames go out through sendCh so a slow link
// never blocks the caller; the write loop is the only writer on the conn.
type peer struct {
	id       string
	nickname string
	addr     netx.Addr
	conn     *noiseconn.Conn

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (p *peer) send(n *Node, frame []byte) {
	select {
	case p.sendCh <- frame:
	case <-p.done:
	default:
		n.logf("peer %s send queue full, dropping frame", p.id)
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// handleConn secures the raw connection, exchanges signed hello announces,
// and runs the link until it dies.
func (n *Node) handleConn(raw netx.Conn, inbound bool) {
	secured, err := noiseconn.Secure(raw, n.noiseKey, !inbound)
	if err != nil {
		n.logf("handshake with %s failed: %v", raw.RemoteAddr(), err)
		_ = raw.Close()
		return
	}

	if err := n.sendHello(secured); err != nil {
		n.logf("hello to %s failed: %v", raw.RemoteAddr(), err)
		_ = secured.Close()
		return
	}

	asm := stream.New(n.assemblerConfig())
	hello, pipelined, err := n.readHello(secured, asm)
	if err != nil {
		n.logf("hello from %s failed: %v", raw.RemoteAddr(), err)
		_ = secured.Close()
		return
	}

	ann, err := proto.DecodeAnnouncePayload(hello.Payload)
	if err != nil {
		n.logf("bad hello payload from %s: %v", raw.RemoteAddr(), err)
		_ = secured.Close()
		return
	}

	p := &peer{
		id:       hex.EncodeToString(hello.SenderID[:]),
		nickname: ann.Nickname,
		addr:     raw.RemoteAddr(),
		conn:     secured,
		sendCh:   make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	if !n.addPeer(p) {
		_ = secured.Close()
		return
	}
	n.logf("link up: %s (%s) via %s", p.nickname, p.id, p.addr)

	// The hello doubles as the peer's announcement.
	n.engine.OnPacketSeen(p.id, hello)
	for _, frame := range pipelined {
		if pkt, err := proto.Decode(frame); err == nil {
			n.handleInbound(p.id, pkt)
		}
	}

	go n.writeLoop(p)
	n.readLoop(p, asm)
	n.removePeer(p.id)
}

// sendHello writes our signed announce as the first frame on a new link.
func (n *Node) sendHello(c *noiseconn.Conn) error {
	payload, err := (&proto.AnnouncePayload{Nickname: n.cfg.Nickname, SignPub: n.identity.Pub}).Encode()
	if err != nil {
		return err
	}
	pkt := &proto.Packet{
		Version:   proto.Version,
		Type:      proto.TypeAnnounce,
		TTL:       1,
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  n.identity.Sender,
		Payload:   payload,
	}
	signed, err := n.identity.Sign(pkt)
	if err != nil {
		return err
	}
	frame, err := proto.Encode(signed, false)
	if err != nil {
		return err
	}
	_, err = c.Write(frame)
	return err
}

// readHello reads until the first complete frame arrives and checks it is a
// verifiable announce. Frames pipelined behind the hello are returned for
// handling once the peer is registered.
func (n *Node) readHello(c *noiseconn.Conn, asm *stream.Assembler) (*proto.Packet, [][]byte, error) {
	buf := make([]byte, 32*1024)
	for {
		nr, err := c.Read(buf)
		if err != nil {
			return nil, nil, err
		}
		res := asm.Append(buf[:nr])
		if res.Reset {
			return nil, nil, errors.New("garbage before hello")
		}
		if len(res.Frames) == 0 {
			continue
		}
		pkt, err := proto.Decode(res.Frames[0])
		if err != nil {
			return nil, nil, err
		}
		if pkt.Type != proto.TypeAnnounce {
			return nil, nil, fmt.Errorf("first frame is %#x, want announce", byte(pkt.Type))
		}
		if !n.registry.Verify(pkt) {
			return nil, nil, errors.New("hello signature rejected")
		}
		return pkt, res.Frames[1:], nil
	}
}

func (n *Node) writeLoop(p *peer) {
	for {
		select {
		case frame := <-p.sendCh:
			if _, err := p.conn.Write(frame); err != nil {
				n.logf("write to %s failed: %v", p.id, err)
				n.removePeer(p.id)
				return
			}
		case <-p.done:
			return
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) readLoop(p *peer, asm *stream.Assembler) {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-p.done:
			return
		case <-n.ctx.Done():
			return
		default:
		}

		nr, err := p.conn.Read(buf)
		if err != nil {
			n.logf("read from %s ended: %v", p.id, err)
			return
		}
		res := asm.Append(buf[:nr])
		if res.Reset {
			n.logf("stream from %s reset, %d bytes discarded", p.id, len(res.Dropped))
		}
		for _, frame := range res.Frames {
			pkt, err := proto.Decode(frame)
			if err != nil {
				n.logf("undecodable frame from %s: %v", p.id, err)
				continue
			}
			n.handleInbound(p.id, pkt)
		}
	}
}
