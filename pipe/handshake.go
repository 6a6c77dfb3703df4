package pipe

import (
	"crypto/tls"
	"crypto/x509"
	"errors"

	"github.com/svens/salcrypto/certificate"
	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/view"
)

// Handshake drives the negotiation state machine one step. It feeds in as
// handshake protocol bytes received from the peer (empty on the very
// first call for the client role), runs the engine until it has produced
// everything it can with what it has been given, and copies any bytes the
// engine wants sent to the peer into out.
//
// Calling Handshake again after the pipe has reached Connected fails with
// already-connected and leaves the pipe's state untouched.
func (p *Pipe) Handshake(in view.Bytes, out view.MutableBytes) (consumed, produced int, err error) {
	if st := p.State(); st == StateConnected {
		return 0, 0, errkind.New(errkind.AlreadyConnected, "pipe: handshake already connected")
	} else if st == StateFailed {
		return 0, 0, p.failed()
	}

	p.mu.Lock()
	if p.state != StateNegotiating {
		p.state = StateNegotiating
		p.log.StateChange(p.roleName(), p.state.String())
	}
	p.mu.Unlock()

	p.handshakeOnce.Do(func() {
		go func() {
			herr := p.conn.Handshake()
			if herr != nil {
				p.eng.setFailed(herr)
				return
			}
			p.eng.setDone()
		}()
	})

	gen := p.eng.feed(in.Data())
	consumed = in.Len()

	p.eng.waitSettled(gen)

	done, eerr := p.eng.status()

	if eerr != nil {
		return consumed, 0, p.fail(mapHandshakeError(eerr))
	}

	produced = p.eng.drainOut(out.Data())
	if p.transport == TransportDatagram && p.eng.outLen() > 0 {
		return consumed, produced, errkind.New(errkind.NoBufferSpace, "pipe: handshake flight does not fit in one datagram buffer")
	}

	if done {
		p.mu.Lock()
		p.state = StateConnected
		state := p.conn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			p.peerCertificate = certificate.FromX509(state.PeerCertificates[0])
			p.peerVerified = true
		}
		p.mu.Unlock()
		p.log.StateChange(p.roleName(), StateConnected.String())
		if p.peerVerified {
			subj, _ := p.peerCertificate.Subject()
			if len(subj) > 0 {
				p.log.PeerIdentified(p.roleName(), subj[0].Value)
			}
		}
	}

	return consumed, produced, nil
}

func mapHandshakeError(err error) error {
	var certErr *tls.CertificateVerificationError
	var invalidErr x509.CertificateInvalidError
	var unknownAuthority x509.UnknownAuthorityError
	switch {
	case errkind.Is(err, errkind.PermissionDenied):
		return err
	case errors.As(err, &certErr), errors.As(err, &invalidErr), errors.As(err, &unknownAuthority):
		return errkind.Wrap(errkind.PermissionDenied, err, "pipe: peer certificate rejected")
	default:
		return errkind.Wrap(errkind.ConnectionAborted, err, "pipe: handshake failed")
	}
}
