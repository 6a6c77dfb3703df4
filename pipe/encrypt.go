package pipe

import (
	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/view"
)

// Encrypt turns plaintext application data into ciphertext record bytes.
// crypto/tls's Write never blocks on input (it only ever calls the
// underlying net.Conn's Write, which this pipe's engine answers
// immediately), so encrypt needs no background goroutine: the whole
// operation completes synchronously within the calling goroutine.
func (p *Pipe) Encrypt(in view.Bytes, out view.MutableBytes) (consumed, produced int, err error) {
	if st := p.State(); st != StateConnected {
		if st == StateFailed {
			return 0, 0, p.failed()
		}
		return 0, 0, errkind.New(errkind.NotConnected, "pipe: encrypt before handshake completes")
	}

	if in.Len() > 0 {
		n, werr := p.conn.Write(in.Data())
		if werr != nil {
			return 0, 0, p.fail(errkind.Wrap(errkind.ConnectionAborted, werr, "pipe: encrypt failed"))
		}
		consumed = n
	}

	produced = p.eng.drainOut(out.Data())
	if p.transport == TransportDatagram && p.eng.outLen() > 0 {
		return consumed, produced, errkind.New(errkind.NoBufferSpace, "pipe: encrypted record does not fit in one datagram buffer")
	}
	return consumed, produced, nil
}
