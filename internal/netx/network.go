// Package netx abstracts the byte-stream carrier under the mesh so tests and
// alternative transports can swap in without touching peer management.
package netx

import "io"

type Addr string

type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Addr
}

type Network interface {
	Listen(bindAddr string) (listenAddr Addr, err error)
	Accept() (Conn, error)
	Dial(addr Addr) (Conn, error)
	Close() error
}
