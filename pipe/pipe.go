// Package pipe implements the secure-channel pipe: a factory that holds
// acquired transport credentials and role/policy settings, and pipes that
// drive a handshake and then encrypt/decrypt application data through
// three non-blocking transform calls. The underlying cryptographic engine
// is Go's crypto/tls, the idiomatic stand-in for the native platform
// providers (SecureTransport, OpenSSL, SChannel) the original design
// abstracts over.
package pipe

import (
	"crypto/tls"
	"sync"

	"github.com/svens/salcrypto/certificate"
	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/internal/logging"
)

// Role identifies which side of the handshake a pipe plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Transport selects stream (TLS-style) or datagram (DTLS-style) framing
// semantics for handshake flights and record coalescing.
type Transport int

const (
	TransportStream Transport = iota
	TransportDatagram
)

// State is the pipe's lifecycle position, per spec §4.5.
type State int

const (
	StateInit State = iota
	StateNegotiating
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pipe is a single secure-channel endpoint produced by a Factory. A pipe
// is not safe for concurrent use by multiple goroutines; distinct pipes
// from the same factory may run concurrently on separate goroutines.
type Pipe struct {
	factory   *Factory
	role      Role
	transport Transport

	mu    sync.Mutex
	state State
	err   error

	conn *tls.Conn
	eng  *engine

	handshakeOnce sync.Once

	// plain holds decrypted application bytes the tls engine has
	// already produced but the caller has not yet drained via Decrypt.
	plain      []byte
	plainErr   error
	plainEOF   bool
	readerOnce sync.Once

	peerVerified    bool
	peerCertificate certificate.Certificate

	log logging.Logger
}

func (p *Pipe) roleName() string {
	if p.role == RoleServer {
		return "server"
	}
	return "client"
}

// State reports the pipe's current lifecycle state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PeerCertificate returns the certificate presented by the remote peer
// once the handshake has produced one, or the empty handle before then.
func (p *Pipe) PeerCertificate() certificate.Certificate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerCertificate
}

// PeerVerified reports whether the remote peer presented a certificate
// during the handshake.
func (p *Pipe) PeerVerified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerVerified
}

func (p *Pipe) fail(err error) error {
	p.mu.Lock()
	p.state = StateFailed
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.log.HandshakeFailed(p.roleName(), err)
	return err
}

func (p *Pipe) failed() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateFailed {
		if p.err != nil {
			return p.err
		}
		return errkind.New(errkind.ConnectionAborted, "pipe: connection aborted")
	}
	return nil
}
