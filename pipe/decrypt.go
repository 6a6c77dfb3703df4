package pipe

import (
	"io"

	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/view"
)

// Decrypt turns received ciphertext into plaintext application data,
// draining any plaintext the engine had already buffered internally
// before this call even if in is empty.
//
// A single persistent goroutine pumps crypto/tls.Conn.Read in a loop for
// the lifetime of the pipe, appending whatever plaintext it produces to a
// residue buffer guarded by p.mu. This avoids spawning a goroutine per
// call and avoids two goroutines calling Read on the same tls.Conn
// concurrently, which crypto/tls does not allow.
//
// A clean peer close is reported in two steps: once the close has been
// observed and every buffered plaintext byte has been delivered, the
// next call that produces nothing transitions the pipe to Closed and
// returns (consumed, 0, nil); any later call on a Closed pipe returns
// orderly-shutdown without touching the engine again.
func (p *Pipe) Decrypt(in view.Bytes, out view.MutableBytes) (consumed, produced int, err error) {
	switch st := p.State(); st {
	case StateConnected:
		// proceed below
	case StateClosed:
		return 0, 0, errkind.New(errkind.OrderlyShutdown, "pipe: peer closed the connection")
	case StateFailed:
		return 0, 0, p.failed()
	default:
		return 0, 0, errkind.New(errkind.NotConnected, "pipe: decrypt before handshake completes")
	}

	p.readerOnce.Do(p.startReader)

	gen := p.eng.feed(in.Data())
	consumed = in.Len()

	p.eng.waitSettled(gen)

	_, eerr := p.eng.status()

	p.mu.Lock()
	perr := p.plainErr
	peof := p.plainEOF
	n := copy(out.Data(), p.plain)
	p.plain = p.plain[n:]
	remaining := len(p.plain)
	p.mu.Unlock()

	produced = n

	if eerr != nil {
		return consumed, produced, p.fail(mapHandshakeError(eerr))
	}
	if perr != nil {
		return consumed, produced, p.fail(errkind.Wrap(errkind.ConnectionAborted, perr, "pipe: decrypt failed"))
	}
	if peof && remaining == 0 && produced == 0 {
		p.mu.Lock()
		p.state = StateClosed
		p.mu.Unlock()
		p.log.StateChange(p.roleName(), StateClosed.String())
		return consumed, 0, nil
	}
	return consumed, produced, nil
}

func (p *Pipe) startReader() {
	// The handshake goroutine left the engine marked done; clear that so
	// waitSettled waits for this reader to park, finish, or fail.
	p.eng.mu.Lock()
	p.eng.done = false
	p.eng.mu.Unlock()
	go func() {
		buf := make([]byte, 16*1024)
		for {
			n, err := p.conn.Read(buf)
			p.mu.Lock()
			if n > 0 {
				p.plain = append(p.plain, buf[:n]...)
			}
			p.mu.Unlock()
			if err != nil {
				p.mu.Lock()
				if err == io.EOF {
					p.plainEOF = true
				} else {
					p.plainErr = err
				}
				p.mu.Unlock()
				p.eng.setDone()
				return
			}
		}
	}()
}
