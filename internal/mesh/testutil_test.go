package mesh

import (
	"io"
	"log"
	"testing"
	"time"

	"meshnode/internal/gossip"
	"meshnode/internal/netx"
)

type nodeTestOpt func(*Config)

// WithLogger lets you override the logger (default is io.Discard).
func WithLogger(l *log.Logger) nodeTestOpt {
	return func(cfg *Config) { cfg.Logger = l }
}

// WithGossip overrides the engine config.
func WithGossip(g gossip.Config) nodeTestOpt {
	return func(cfg *Config) { cfg.Gossip = g }
}

// newTestNode spins up a node bound to an ephemeral localhost port and auto-stops it.
func newTestNode(t *testing.T, name string, opts ...nodeTestOpt) *Node {
	t.Helper()

	cfg := Config{
		Nickname: name,
		Network:  netx.NewTCPNetwork(),
		BindAddr: "127.0.0.1:0",
		Logger:   log.New(io.Discard, "", log.LstdFlags),
		Debug:    true,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode(%s) error: %v", name, err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start(%s) error: %v", name, err)
	}

	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func waitPeers(t *testing.T, n *Node, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.PeerCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for peers: node=%s have=%d want=%d", n.Name(), n.PeerCount(), want)
}

func connect(t *testing.T, from, to *Node) {
	t.Helper()
	if err := from.ConnectTo(to.ListenAddr()); err != nil {
		t.Fatalf("%s.ConnectTo(%s) error: %v", from.Name(), to.Name(), err)
	}
}

func drainIncomingForever(t *testing.T, n *Node, done <-chan struct{}) {
	t.Helper()
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-n.Incoming():
				if !ok {
					return
				}
			}
		}
	}()
}
