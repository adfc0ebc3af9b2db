package mplex

import (
	"io"
	"net"
	"sync"
	"time"
)

// Stream is one bidirectional, independently half-closable byte stream
// multiplexed over a Multiplex's secured connection. A Stream is created
// either by OpenStream (local) or delivered from Accept (remote); in
// either case it is owned by its Multiplex, which is the only thing that
// ever writes to dataIn or mutates the table the Stream lives in.
type Stream struct {
	id   streamID
	name string

	mp *Multiplex

	dataIn chan []byte

	readLock sync.Mutex
	readBuf  []byte
	readOff  int

	closeLock                        sync.Mutex
	localClosed, remoteClosed, reset bool
	closeInboxOnce                   sync.Once

	rDeadline, wDeadline pipeDeadline
}

var (
	_ net.Conn = (*Stream)(nil)
)

// Name returns the stream's informational name, set by whichever side
// sent the NewStream frame.
func (s *Stream) Name() string { return s.name }

// closeInbox closes dataIn exactly once, however many of NewStream's
// local-reset / peer-Close / peer-Reset / connection-cleanup paths race to
// call it.
func (s *Stream) closeInbox() {
	s.closeInboxOnce.Do(func() { close(s.dataIn) })
}

// endOfStreamErr reports what an exhausted inbox means for this stream:
// StreamReset if either side reset it, otherwise a clean EOF.
func (s *Stream) endOfStreamErr() error {
	s.closeLock.Lock()
	defer s.closeLock.Unlock()
	if s.reset {
		return ErrStreamReset
	}
	return io.EOF
}

// Read implements io.Reader. It satisfies already-buffered bytes from a
// prior message before waiting on the next one, so a read for fewer bytes
// than a single message carries never drops the remainder — it becomes
// the leftover the next Read drains first.
func (s *Stream) Read(b []byte) (int, error) {
	s.readLock.Lock()
	defer s.readLock.Unlock()

	if s.readOff < len(s.readBuf) {
		n := copy(b, s.readBuf[s.readOff:])
		s.readOff += n
		if s.readOff >= len(s.readBuf) {
			s.mp.putBufferInbound(s.readBuf)
			s.readBuf = nil
			s.readOff = 0
		}
		return n, nil
	}

	select {
	case msg, ok := <-s.dataIn:
		if !ok {
			return 0, s.endOfStreamErr()
		}
		n := copy(b, msg)
		if n >= len(msg) {
			s.mp.putBufferInbound(msg)
		} else {
			s.readBuf = msg
			s.readOff = n
		}
		return n, nil
	case <-s.rDeadline.wait():
		return 0, errTimeout
	}
}

// Write implements io.Writer. The wire protocol never fragments: b is
// carried as the payload of a single Message frame, or not sent at all.
func (s *Stream) Write(b []byte) (int, error) {
	s.closeLock.Lock()
	switch {
	case s.reset:
		s.closeLock.Unlock()
		return 0, ErrStreamReset
	case s.localClosed:
		s.closeLock.Unlock()
		return 0, ErrStreamClosed
	}
	s.closeLock.Unlock()

	if len(b) > s.mp.opts.maxMessageSize {
		return 0, ErrWriteTooLarge
	}

	if err := s.mp.sendMessage(s.wDeadline.wait(), s.id, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close half-closes the local write side. It is idempotent: once called,
// further calls are no-ops. If the peer had already half-closed its side,
// the stream is removed from the Multiplex's table.
func (s *Stream) Close() error {
	s.closeLock.Lock()
	if s.localClosed {
		s.closeLock.Unlock()
		return nil
	}
	s.localClosed = true
	bothClosed := s.remoteClosed
	s.closeLock.Unlock()

	err := s.mp.emitFrame(nil, s.id, s.id.closeFlag(), nil)
	if err != nil && err != ErrShutdown {
		return err
	}

	if bothClosed {
		s.mp.removeStream(s.id)
	}
	return nil
}

// Reset aborts the stream immediately and bidirectionally. It is
// idempotent. Reset never waits for the peer: local state transitions
// first, then a best-effort Reset frame is sent.
func (s *Stream) Reset() error {
	s.closeLock.Lock()
	if s.localClosed && s.remoteClosed {
		s.closeLock.Unlock()
		return nil
	}
	s.localClosed = true
	s.remoteClosed = true
	s.reset = true
	s.closeLock.Unlock()

	s.closeInbox()
	s.mp.removeStream(s.id)
	s.mp.metrics.observeReset()

	s.mp.sendReset(s.id)
	return nil
}

// CloseWrite is an alias for Close, spelled out for callers that otherwise
// only know half-close by that name (e.g. code written against
// io.ReadWriteCloser plus a CloseWrite-shaped interface).
func (s *Stream) CloseWrite() error { return s.Close() }

// SetDeadline sets both the read and write deadlines, as with net.Conn.
func (s *Stream) SetDeadline(t time.Time) error {
	s.rDeadline.set(t)
	s.wDeadline.set(t)
	return nil
}

// SetReadDeadline sets the deadline for future Read calls.
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.rDeadline.set(t)
	return nil
}

// SetWriteDeadline sets the deadline for future Write calls.
func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.wDeadline.set(t)
	return nil
}

// LocalAddr delegates to the underlying secured connection.
func (s *Stream) LocalAddr() net.Addr { return s.mp.con.LocalAddr() }

// RemoteAddr delegates to the underlying secured connection.
func (s *Stream) RemoteAddr() net.Addr { return s.mp.con.RemoteAddr() }
