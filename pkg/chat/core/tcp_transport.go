package core

import (
	"net"
	"time"

	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Implements StreamLayer for plain TCP.
type TCPStreamLayer struct {
	advertise net.Addr
	listener  *net.TCPListener
}

// NewTCPTransport returns a NetworkTransport that is built on top of
// a TCP streaming transport layer. The advertised address, or the
// bound address if none, is the endpoint identity.
func NewTCPTransport(
	bindAddr string,
	advertise net.Addr,
	timeout time.Duration,
	logger types.Logger,
) (*NetworkTransport, error) {
	lis, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	stream := &TCPStreamLayer{
		advertise: advertise,
		listener:  lis.(*net.TCPListener),
	}

	available, ok := stream.Addr().(*net.TCPAddr)
	if !ok {
		lis.Close()
		return nil, ErrorNotTCP
	}

	if available.IP.IsUnspecified() {
		lis.Close()
		return nil, ErrorNotAdvertiseAddress
	}

	return NewNetworkTransport(stream, timeout, logger), nil
}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address types.NodeID, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", string(address), timeout)
}

// Accept implements the net.Listener interface.
func (t *TCPStreamLayer) Accept() (c net.Conn, err error) {
	return t.listener.Accept()
}

// Close implements the net.Listener interface.
func (t *TCPStreamLayer) Close() (err error) {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TCPStreamLayer) Addr() net.Addr {
	// Use an advertise addr if provided
	if t.advertise != nil {
		return t.advertise
	}
	return t.listener.Addr()
}
