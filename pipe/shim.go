package pipe

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// engine adapts Go's blocking crypto/tls.Conn to the pipe's non-blocking
// transform contract. crypto/tls drives I/O through whatever net.Conn it is
// given; the spec's "engine I/O callback shim" design note (§9) calls for
// exactly this kind of in-process shim reading from `in` and writing to
// `out`. Because tls.Conn.Read/Write are synchronous and must not run
// concurrently with each other on the same Conn, each pipe that needs to
// call tls.Conn.Read (Handshake, Decrypt) runs it on one persistent
// goroutine and drives that goroutine to a *settled* state per external
// call rather than spawning one goroutine per call.
//
// activity is a monotonically increasing counter bumped on every state
// transition (feed, drain, park, unpark). A driver call records the
// activity value right after it feeds new ciphertext (gen, as returned by
// feed) and then waits until the goroutine reports parked at an activity
// value at or after gen. Waiting only for "parked" (without the generation check)
// would race: the blocked goroutine's own parked flag is still true from
// its *previous* parking until it wakes and re-evaluates, so a driver that
// checked parked alone could return immediately without ever having woken
// the goroutine to consume the bytes it just fed.
type engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	in  bytes.Buffer
	out bytes.Buffer

	activity int
	parked   bool
	parkedAt int

	closeRequested bool

	done bool
	err  error
}

func newEngine() *engine {
	e := &engine{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// feed appends ciphertext/plaintext for the engine to consume and returns
// the activity generation the caller should wait to be surpassed.
func (e *engine) feed(p []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activity++
	gen := e.activity
	if len(p) > 0 {
		e.in.Write(p)
	}
	e.cond.Broadcast()
	return gen
}

// waitSettled blocks (bounded by the engine's own CPU-only processing —
// no socket I/O ever happens underneath) until the goroutine has parked at
// or after gen, finished, or failed.
func (e *engine) waitSettled(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if e.done || e.err != nil {
			return
		}
		if e.parked && e.parkedAt >= gen {
			return
		}
		e.cond.Wait()
	}
}

// drainOut moves up to len(p) produced bytes into p.
func (e *engine) drainOut(p []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := e.out.Read(p[:min(len(p), e.out.Len())])
	return n
}

func (e *engine) outLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out.Len()
}

// status returns the engine's terminal state under its own lock; callers
// must not read e.err/e.done directly since they are not guarded by the
// pipe's mutex.
func (e *engine) status() (done bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done, e.err
}

func (e *engine) setFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
	e.activity++
	e.cond.Broadcast()
}

func (e *engine) setDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	e.activity++
	e.cond.Broadcast()
}

func (e *engine) requestClose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeRequested = true
	e.activity++
	e.cond.Broadcast()
}

// Read implements net.Conn for the tls engine goroutine. It blocks (the
// goroutine, never the caller of Handshake/Encrypt/Decrypt) until more
// input has been fed or the pipe is torn down.
func (e *engine) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activity++
	for e.in.Len() == 0 && !e.closeRequested {
		e.parked = true
		e.parkedAt = e.activity
		e.cond.Broadcast()
		e.cond.Wait()
		e.activity++
	}
	e.parked = false
	if e.in.Len() == 0 {
		return 0, io.EOF
	}
	n, _ := e.in.Read(p)
	e.activity++
	e.cond.Broadcast()
	return n, nil
}

// Write implements net.Conn for the tls engine goroutine. It never blocks:
// produced bytes are appended to out for the driver to collect.
func (e *engine) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := e.out.Write(p)
	e.activity++
	e.cond.Broadcast()
	return n, nil
}

func (e *engine) Close() error                    { e.requestClose(); return nil }
func (e *engine) LocalAddr() net.Addr             { return pipeAddr{} }
func (e *engine) RemoteAddr() net.Addr            { return pipeAddr{} }
func (e *engine) SetDeadline(time.Time) error      { return nil }
func (e *engine) SetReadDeadline(time.Time) error  { return nil }
func (e *engine) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
