package noiseconn

import (
	"bytes"
	"net"
	"testing"
)

func securedPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	ck, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	sk, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	a, b := net.Pipe()
	type res struct {
		conn *Conn
		err  error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := Secure(a, ck, true)
		ch <- res{c, err}
	}()
	server, err := Secure(b, sk, false)
	if err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	r := <-ch
	if r.err != nil {
		t.Fatalf("client handshake: %v", r.err)
	}
	return r.conn, server
}

func TestHandshakeAndEcho(t *testing.T) {
	client, server := securedPair(t)
	defer client.Close()

	msg := []byte("over the mesh")
	go func() {
		_, _ = client.Write(msg)
	}()

	buf := make([]byte, 1024)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Fatalf("got %q, want %q", buf[:n], msg)
	}
}

func TestRemoteStaticAuthenticated(t *testing.T) {
	client, server := securedPair(t)
	defer client.Close()
	defer server.Close()

	if len(client.RemoteStatic) == 0 || len(server.RemoteStatic) == 0 {
		t.Fatalf("XX handshake did not surface static keys")
	}
	if bytes.Equal(client.RemoteStatic, server.RemoteStatic) {
		t.Fatalf("both sides report the same remote static key")
	}
}

func TestShortBufferReadKeepsLeftover(t *testing.T) {
	client, server := securedPair(t)
	defer client.Close()
	defer server.Close()

	go func() { _, _ = client.Write([]byte("abcdef")) }()

	small := make([]byte, 2)
	var got []byte
	for len(got) < 6 {
		n, err := server.Read(small)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, small[:n]...)
	}
	if string(got) != "abcdef" {
		t.Fatalf("reassembled %q", got)
	}
}
