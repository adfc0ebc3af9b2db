// Package mplex implements the core of a stream multiplexer compatible
// with the mplex wire protocol (/mplex/6.7.0): a single reliable, ordered,
// bidirectional byte transport in, many independent bidirectional byte
// streams out.
package mplex

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
)

// frameOverhead bounds the header+length varint prefix of a frame: two
// uvarints, each at most binary.MaxVarintLen64 bytes for a 64-bit value
// (channel ids must support at least 62 bits), ahead of the payload itself.
const frameOverhead = 2 * binary.MaxVarintLen64

// Multiplex is an mplex session: the connection-level state machine that
// frames outbound messages onto a secured connection, demultiplexes
// inbound frames into per-stream queues, and coordinates the producers and
// consumers of those queues.
type Multiplex struct {
	con       net.Conn
	buf       *bufio.Reader
	initiator bool

	opts *options

	nextIDLock sync.Mutex
	nextID     uint64

	streamsLock sync.Mutex
	streams     map[streamID]*Stream

	nstreams chan *Stream

	writeCh chan []byte

	shutdownLock sync.Mutex
	shutdown     chan struct{}
	shutdownErr  error
	closed       chan struct{}

	bufIn, bufOut  chan struct{}
	reservedMemory int

	metrics *Metrics
}

// NewMultiplex creates a new mplex session over con and immediately starts
// its reader and writer goroutines (there is no separate start lifecycle:
// a Multiplex is usable as soon as this returns, matching the reference
// implementation this core is grounded on). initiator must match the role
// the secured connection itself was established with.
func NewMultiplex(con net.Conn, initiator bool, opts ...Option) (*Multiplex, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	mp := &Multiplex{
		con:       con,
		initiator: initiator,
		buf:       bufio.NewReader(con),
		opts:      o,
		streams:   make(map[streamID]*Stream),
		nstreams:  make(chan *Stream, 16),
		writeCh:   make(chan []byte, 16),
		shutdown:  make(chan struct{}),
		closed:    make(chan struct{}),
		metrics:   o.metrics,
	}

	bufs, err := mp.reserveBuffers()
	if bufs == 0 {
		return nil, err
	}
	mp.bufIn = make(chan struct{}, bufs)
	mp.bufOut = make(chan struct{}, bufs)

	go mp.readLoop()
	go mp.writeLoop()

	return mp, nil
}

// reserveBuffers asks the configured MemoryManager for up to opts.maxBuffers
// slots of 2*maxMessageSize each, at decreasing priority, stopping at the
// first refusal. If at least one slot is granted the Multiplex proceeds
// with a smaller buffer budget; if none is, NewMultiplex fails with the
// MemoryManager's error.
func (mp *Multiplex) reserveBuffers() (int, error) {
	var err error
	granted := 0
	for i := 0; i < mp.opts.maxBuffers; i++ {
		var prio uint8
		switch i {
		case 0:
			prio = 255
		case 1:
			prio = 192
		default:
			prio = 128
		}
		if err = mp.opts.memoryManager.ReserveMemory(2*mp.opts.maxMessageSize, prio); err != nil {
			break
		}
		mp.reservedMemory += 2 * mp.opts.maxMessageSize
		granted++
	}
	return granted, err
}

// IsInitiator reports whether this side opened the underlying connection.
func (mp *Multiplex) IsInitiator() bool { return mp.initiator }

// IsClosed reports whether the Multiplex has completed shutdown.
func (mp *Multiplex) IsClosed() bool {
	select {
	case <-mp.closed:
		return true
	default:
		return false
	}
}

// CloseChan returns a channel that is closed once the Multiplex has fully
// shut down, for callers that want to select on it alongside other events.
func (mp *Multiplex) CloseChan() <-chan struct{} { return mp.closed }

func (mp *Multiplex) isShutdown() bool {
	select {
	case <-mp.shutdown:
		return true
	default:
		return false
	}
}

// OpenStream allocates the next channel id, registers the stream, and
// sends the NewStream frame that announces it to the peer. No handshake
// response is expected or awaited.
func (mp *Multiplex) OpenStream(ctx context.Context) (*Stream, error) {
	mp.streamsLock.Lock()
	if mp.isShutdown() {
		mp.streamsLock.Unlock()
		return nil, ErrShutdown
	}

	id := streamID{id: mp.allocChannelID(), initiator: true}
	name := strconv.FormatUint(id.id, 10)
	s := mp.newStream(id, name)
	mp.streams[id] = s
	mp.streamsLock.Unlock()

	if err := mp.emitFrame(ctx.Done(), id, NewStream, []byte(name)); err != nil {
		if err == errTimeout {
			return nil, ctx.Err()
		}
		return nil, err
	}

	mp.metrics.observeOpened()
	return s, nil
}

func (mp *Multiplex) allocChannelID() uint64 {
	mp.nextIDLock.Lock()
	defer mp.nextIDLock.Unlock()
	id := mp.nextID
	mp.nextID++
	return id
}

// Accept blocks until the peer opens a stream or the Multiplex shuts down.
func (mp *Multiplex) Accept() (*Stream, error) {
	select {
	case s, ok := <-mp.nstreams:
		if !ok {
			return nil, mp.shutdownErrOrDefault()
		}
		mp.metrics.observeAccepted()
		return s, nil
	case <-mp.closed:
		return nil, mp.shutdownErrOrDefault()
	}
}

func (mp *Multiplex) shutdownErrOrDefault() error {
	if mp.shutdownErr != nil && mp.shutdownErr != ErrShutdown {
		return fmt.Errorf("%w: %w", ErrShutdown, mp.shutdownErr)
	}
	return ErrShutdown
}

func (mp *Multiplex) newStream(id streamID, name string) *Stream {
	return &Stream{
		id:        id,
		name:      name,
		mp:        mp,
		dataIn:    make(chan []byte, mp.opts.maxBuffers),
		rDeadline: makePipeDeadline(),
		wDeadline: makePipeDeadline(),
	}
}

func (mp *Multiplex) removeStream(id streamID) {
	mp.streamsLock.Lock()
	delete(mp.streams, id)
	mp.streamsLock.Unlock()
}

// sendMessage emits a Message frame for id, respecting cancel (typically a
// Stream's write-deadline channel).
func (mp *Multiplex) sendMessage(cancel <-chan struct{}, id streamID, data []byte) error {
	return mp.emitFrame(cancel, id, id.messageFlag(), data)
}

// sendReset emits a best-effort Reset frame for id. Failures are logged,
// not propagated: by the time this is called the stream's local state has
// already transitioned, and Reset is specified as never failing.
func (mp *Multiplex) sendReset(id streamID) {
	timer := time.NewTimer(mp.opts.resetStreamTimeout)
	defer timer.Stop()
	if err := mp.emitFrame(timer.C, id, id.resetFlag(), nil); err != nil && !mp.isShutdown() {
		log.Debugf("stream %d: error sending reset frame: %s", id.id, err)
	}
}

// emitFrame serializes header||length||payload for one frame into a
// pooled outbound buffer and hands it to the writer goroutine, which is the
// sole writer to the secured connection, so frames from concurrent callers
// are never interleaved on the wire. cancel may be nil, meaning the
// emission can only be interrupted by shutdown.
func (mp *Multiplex) emitFrame(cancel <-chan struct{}, id streamID, flag Flag, data []byte) error {
	buf, err := mp.allocOutbound(len(data) + frameOverhead)
	if err != nil {
		return err
	}

	n := 0
	n += copy(buf[n:], encodeUvarint(id.header(flag)))
	n += copy(buf[n:], encodeUvarint(uint64(len(data))))
	n += copy(buf[n:], data)
	frame := buf[:n]

	select {
	case mp.writeCh <- frame:
		return nil
	case <-mp.shutdown:
		mp.putBufferOutbound(frame)
		return ErrShutdown
	case <-cancel:
		mp.putBufferOutbound(frame)
		return errTimeout
	}
}

func (mp *Multiplex) writeLoop() {
	for {
		select {
		case <-mp.shutdown:
			return
		case frame := <-mp.writeCh:
			_, err := mp.con.Write(frame)
			mp.putBufferOutbound(frame)
			if err != nil {
				log.Warnf("error writing frame: %s", err)
				mp.closeNoWait()
				return
			}
		}
	}
}

func (mp *Multiplex) readLoop() {
	defer mp.cleanup()

	for {
		header, err := decodeUvarintFrom(mp.buf)
		if err != nil {
			mp.shutdownErr = err
			return
		}
		flag := Flag(header & 0x7)
		chID := header >> 3
		sid := streamID{id: chID, initiator: localInitiatorFor(flag)}

		payload, err := readVarintPrefixed(mp.buf, mp.opts.maxMessageSize, mp.allocInbound)
		if err != nil {
			mp.shutdownErr = err
			return
		}

		var fatal error
		switch flag {
		case NewStream:
			fatal = mp.handleNewStream(sid, payload)
		case MessageInitiator, MessageReceiver:
			mp.handleMessage(sid, payload)
		case CloseInitiator, CloseReceiver:
			mp.handleClose(sid)
		case ResetInitiator, ResetReceiver:
			mp.handleReset(sid)
		default:
			mp.handleUnknownFlag(sid)
		}
		if fatal != nil {
			mp.shutdownErr = fatal
			return
		}
	}
}

func (mp *Multiplex) handleNewStream(sid streamID, payload []byte) error {
	mp.streamsLock.Lock()
	if _, exists := mp.streams[sid]; exists {
		mp.streamsLock.Unlock()
		return fmt.Errorf("%w: duplicate NewStream for channel %d", ErrInvalidState, sid.id)
	}
	s := mp.newStream(sid, string(payload))
	mp.streams[sid] = s
	mp.streamsLock.Unlock()

	mp.putBufferInbound(payload)

	select {
	case mp.nstreams <- s:
	case <-mp.shutdown:
	}
	return nil
}

func (mp *Multiplex) handleMessage(sid streamID, payload []byte) {
	mp.streamsLock.Lock()
	s, ok := mp.streams[sid]
	mp.streamsLock.Unlock()
	if !ok {
		// Non-fatal: the peer referenced an unknown or already-closed
		// stream.
		mp.putBufferInbound(payload)
		return
	}

	s.closeLock.Lock()
	remoteClosed := s.remoteClosed
	s.closeLock.Unlock()
	if remoteClosed {
		mp.putBufferInbound(payload)
		return
	}

	timer := time.NewTimer(mp.opts.receiveTimeout)
	defer timer.Stop()
	select {
	case s.dataIn <- payload:
	case <-mp.shutdown:
		mp.putBufferInbound(payload)
	case <-timer.C:
		mp.putBufferInbound(payload)
		log.Warnf("stream %d: slow reader did not drain within %s; resetting stream", sid.id, mp.opts.receiveTimeout)
		s.Reset()
	}
}

func (mp *Multiplex) handleClose(sid streamID) {
	mp.streamsLock.Lock()
	s, ok := mp.streams[sid]
	mp.streamsLock.Unlock()
	if !ok {
		return
	}

	s.closeInbox()

	s.closeLock.Lock()
	if s.remoteClosed {
		s.closeLock.Unlock()
		return
	}
	s.remoteClosed = true
	bothClosed := s.localClosed
	s.closeLock.Unlock()

	if bothClosed {
		mp.removeStream(sid)
	}
}

func (mp *Multiplex) handleReset(sid streamID) {
	mp.streamsLock.Lock()
	s, ok := mp.streams[sid]
	mp.streamsLock.Unlock()
	if !ok {
		// This is fine: we forget the stream once it's been reset.
		return
	}

	s.closeInbox()

	s.closeLock.Lock()
	if !s.remoteClosed {
		s.reset = true
		s.remoteClosed = true
	}
	s.localClosed = true
	s.closeLock.Unlock()

	mp.removeStream(sid)
	mp.metrics.observeReset()
}

func (mp *Multiplex) handleUnknownFlag(sid streamID) {
	mp.streamsLock.Lock()
	s, ok := mp.streams[sid]
	mp.streamsLock.Unlock()
	if !ok {
		return
	}
	log.Debugf("stream %d: received frame with unrecognized flag; resetting stream", sid.id)
	s.Reset()
}

// Close shuts down the Multiplex: it closes the secured connection (which
// drives the read loop's next read to fail and thus into cleanup), then
// waits for cleanup to finish. Concurrent callers all observe the same
// completion.
func (mp *Multiplex) Close() error {
	mp.closeNoWait()
	<-mp.closed
	return nil
}

func (mp *Multiplex) closeNoWait() {
	mp.shutdownLock.Lock()
	defer mp.shutdownLock.Unlock()
	select {
	case <-mp.shutdown:
	default:
		mp.opts.memoryManager.ReleaseMemory(mp.reservedMemory)
		mp.con.Close()
		close(mp.shutdown)
	}
}

// cleanup runs once, from the read loop's defer, after it exits for any
// reason. It resets every still-open stream, empties the stream table, and
// closes the accept queue, then signals closed.
func (mp *Multiplex) cleanup() {
	mp.closeNoWait()

	mp.streamsLock.Lock()
	streams := mp.streams
	mp.streams = make(map[streamID]*Stream)
	mp.streamsLock.Unlock()

	for _, s := range streams {
		s.closeLock.Lock()
		if !s.remoteClosed {
			s.remoteClosed = true
			s.reset = true
			s.localClosed = true
		}
		s.closeLock.Unlock()
		s.closeInbox()
	}

	if mp.shutdownErr == nil {
		mp.shutdownErr = ErrShutdown
	}
	close(mp.nstreams)
	close(mp.closed)
}

func (mp *Multiplex) allocInbound(n int) ([]byte, error) {
	select {
	case mp.bufIn <- struct{}{}:
	case <-mp.shutdown:
		return nil, ErrShutdown
	}
	return pool.Get(n), nil
}

func (mp *Multiplex) putBufferInbound(b []byte) {
	mp.putBuffer(b, mp.bufIn)
}

func (mp *Multiplex) allocOutbound(n int) ([]byte, error) {
	select {
	case mp.bufOut <- struct{}{}:
	case <-mp.shutdown:
		return nil, ErrShutdown
	}
	return pool.Get(n), nil
}

func (mp *Multiplex) putBufferOutbound(b []byte) {
	mp.putBuffer(b, mp.bufOut)
}

func (mp *Multiplex) putBuffer(b []byte, slot chan struct{}) {
	if b == nil {
		// A zero-length inbound payload (an empty Message, or a Close/Reset
		// frame without payload) never went through allocInbound in the
		// first place, so there's no semaphore slot to release. Outbound
		// frames are never nil: emitFrame always allocates one.
		return
	}
	<-slot
	pool.Put(b)
}
