// Package session wraps one bidirectional, line-oriented connection to a client
// or a storage node.
//
// A Session frames outgoing protocol messages as newline-terminated lines and parses
// incoming lines exactly once into protocol.Message values. Writes are serialized so
// the coordinator can push to a node session from any goroutine while the session's
// own goroutine is blocked reading.
package session

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/protocol"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

const maxLineBytes = 1 << 20

// Session is a framed connection.
type Session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader

	wmu    sync.Mutex
	writer *bufio.Writer

	closed atomic.Bool
}

// New wraps conn. Each session gets a random id used for log correlation.
func New(conn net.Conn) *Session {
	return &Session{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 4096),
		writer: bufio.NewWriter(conn),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Send writes msg followed by a newline and flushes.
func (s *Session) Send(msg protocol.Message) error {
	return s.SendLine(msg.String())
}

// SendLine writes a raw protocol line.
func (s *Session) SendLine(line string) error {
	if s.closed.Load() {
		return sentinel.ErrSessionClosed
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err := s.writer.WriteString(line + "\n")
	if err == nil {
		err = s.writer.Flush()
	}

	if err != nil {
		return ewrap.Wrap(err, "session write")
	}

	return nil
}

// ReadLine returns the next line without its terminator. io.EOF is returned as is.
// A line longer than the limit is consumed whole and rejected as malformed.
func (s *Session) ReadLine() (string, error) {
	var buf []byte

	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return string(buf), nil
			}

			return "", err
		}

		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			// drop the rest so the tail is not read as the next command
			for isPrefix && err == nil {
				_, isPrefix, err = s.reader.ReadLine()
			}

			return "", ewrap.Wrap(sentinel.ErrMalformedCommand, "line too long")
		}

		if !isPrefix {
			return string(buf), nil
		}
	}
}

// Receive reads and parses the next message. A parse failure is returned together with
// the raw line so callers can log it and keep the connection open.
func (s *Session) Receive() (protocol.Message, string, error) {
	line, err := s.ReadLine()
	if err != nil {
		return nil, "", err
	}

	msg, err := protocol.Parse(line)

	return msg, line, err
}

// Reader exposes the buffered reader for raw byte transfers following a protocol line.
// Bytes already buffered after the line are not lost.
func (s *Session) Reader() io.Reader { return s.reader }

// Writer exposes the connection for raw byte transfers. Callers must not interleave
// it with Send from other goroutines.
func (s *Session) Writer() io.Writer { return s.conn }

// SetReadDeadline bounds the next reads; the zero time clears it.
func (s *Session) SetReadDeadline(t time.Time) error {
	err := s.conn.SetReadDeadline(t)
	if err != nil {
		return ewrap.Wrap(err, "session deadline")
	}

	return nil
}

// Finish half-closes the connection and waits for the peer to close its side. A peer
// closes only once it is done with the bytes it received, so nil confirms the transfer.
func (s *Session) Finish() error {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	_, err := s.ReadLine()
	if errors.Is(err, io.EOF) {
		return nil
	}

	if err == nil {
		return ewrap.Wrap(sentinel.ErrMalformedCommand, "unexpected data after transfer")
	}

	return ewrap.Wrap(err, "await peer close")
}

// Close closes the connection; it is safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.conn.Close()
	if err != nil {
		return ewrap.Wrap(err, "session close")
	}

	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }
