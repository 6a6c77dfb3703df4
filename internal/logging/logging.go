// Package logging is a small structured-logging helper for the pipe
// package, grounded on the library's own logger package idiom (a
// logrus-backed entry with time/level/message/error/data fields) but
// trimmed to the handful of fields a pipe's lifecycle actually needs:
// state transitions, handshake failures, and factory construction.
package logging

import (
	"github.com/sirupsen/logrus"
)

const (
	FieldState = "state"
	FieldRole  = "role"
	FieldError = "error"
	FieldPeer  = "peer"
)

// Logger wraps a *logrus.Logger with the field names this module uses,
// so call sites never spell out field keys themselves.
type Logger struct {
	log *logrus.Logger
}

// New wraps an existing logrus.Logger. Passing nil yields a Logger that
// discards everything, which is the zero-configuration default a Factory
// falls back to when the caller supplies none.
func New(log *logrus.Logger) Logger {
	if log == nil {
		log = logrus.New()
		log.SetOutput(discard{})
	}
	return Logger{log: log}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// StateChange logs a pipe's transition into a new lifecycle state.
func (l Logger) StateChange(role, state string) {
	l.log.WithFields(logrus.Fields{
		FieldRole:  role,
		FieldState: state,
	}).Debug("pipe state change")
}

// HandshakeFailed logs a handshake failure with its cause.
func (l Logger) HandshakeFailed(role string, err error) {
	l.log.WithFields(logrus.Fields{
		FieldRole:  role,
		FieldError: err,
	}).Warn("pipe handshake failed")
}

// PeerIdentified logs the peer identity a completed handshake produced.
func (l Logger) PeerIdentified(role, peer string) {
	l.log.WithFields(logrus.Fields{
		FieldRole: role,
		FieldPeer: peer,
	}).Info("pipe peer identified")
}

// FactoryBuilt logs the successful construction of a Factory.
func (l Logger) FactoryBuilt(role string) {
	l.log.WithFields(logrus.Fields{
		FieldRole: role,
	}).Info("pipe factory built")
}
