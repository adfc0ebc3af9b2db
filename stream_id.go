package mplex

// Flag is the 3-bit tag carried in the low bits of every frame header. Its
// value identifies the purpose of the frame and, for every value except
// NewStream, the role (initiator/non-initiator) of the sender.
type Flag int

const (
	// NewStream opens a stream; the payload is the (UTF-8) stream name.
	NewStream Flag = iota
	// MessageReceiver carries data sent by the non-initiator side.
	MessageReceiver
	// MessageInitiator carries data sent by the initiator side.
	MessageInitiator
	// CloseReceiver half-closes the non-initiator's write side.
	CloseReceiver
	// CloseInitiator half-closes the initiator's write side.
	CloseInitiator
	// ResetReceiver aborts the stream, sent by the non-initiator.
	ResetReceiver
	// ResetInitiator aborts the stream, sent by the initiator.
	ResetInitiator
)

func (f Flag) String() string {
	switch f {
	case NewStream:
		return "NewStream"
	case MessageReceiver:
		return "MessageReceiver"
	case MessageInitiator:
		return "MessageInitiator"
	case CloseReceiver:
		return "CloseReceiver"
	case CloseInitiator:
		return "CloseInitiator"
	case ResetReceiver:
		return "ResetReceiver"
	case ResetInitiator:
		return "ResetInitiator"
	default:
		return "Unknown"
	}
}

// streamID is the composite key (channel_id, initiator) identifying one
// logical stream from the local endpoint's point of view. initiator is
// true iff the local side sent the NewStream frame for this stream.
type streamID struct {
	id        uint64
	initiator bool
}

// header encodes (channel_id<<3 | flag) with flag used exactly as given;
// callers pick the Initiator/Receiver variant via messageFlag, closeFlag or
// resetFlag.
func (s streamID) header(flag Flag) uint64 {
	return (s.id << 3) | uint64(flag)
}

// messageFlag returns the Message flag a local write on this stream should
// carry: the local side's role determines which half of the pair it is.
func (s streamID) messageFlag() Flag {
	if s.initiator {
		return MessageInitiator
	}
	return MessageReceiver
}

// closeFlag returns the Close flag a local half-close on this stream
// should carry.
func (s streamID) closeFlag() Flag {
	if s.initiator {
		return CloseInitiator
	}
	return CloseReceiver
}

// resetFlag returns the Reset flag a local reset on this stream should
// carry.
func (s streamID) resetFlag() Flag {
	if s.initiator {
		return ResetInitiator
	}
	return ResetReceiver
}

// localInitiatorFor derives the local streamID.initiator value for an
// inbound frame carrying the given flag. This is the "low
// bit of the flag is the sender's role" rule from the wire format: the
// local side is the opposite of whoever sent the frame, and happens to
// equal (flag & 1) == 1 uniformly, including for NewStream (flag 0, whose
// low bit is always 0 — the local side of a fresh NewStream is always the
// non-initiator).
func localInitiatorFor(flag Flag) bool {
	return flag&1 == 1
}
