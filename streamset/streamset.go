// Package streamset implements the quicconn.StreamSet collaborator: a
// bounded table of peer- and locally-initiated streams, tracked only
// well enough to exercise the core's STREAM/MAX_STREAMS/RESET_STREAM
// dispatch (spec.md §6 StreamSet, §4.11 "Stream placeholder").
package streamset

import (
	"fmt"
	"sync"
)

// streamState is intentionally thin: the per-frame-type stream state
// machines (send/recv offsets, FIN tracking, flow control) are a named
// out-of-scope collaborator of their own; this package only proves
// streams can be created, looked up, dispatched to, and torn down.
type streamState struct {
	id        uint64
	closed    bool
	bytesSeen uint64
}

// Set is a StreamSet implementation keyed by stream id, split into the
// four RFC 9000 §2.1 id-space quadrants (bidi/uni × local/peer-initiated).
type Set struct {
	mu sync.Mutex

	streams map[uint64]*streamState

	maxStreamsBidi, maxStreamsUni         uint64
	peerStreamsBidiOpened, peerStreamsUniOpened uint64

	isServer bool
}

// New returns an empty Set; isServer selects which stream-id parity is
// considered peer-initiated (RFC 9000 §2.1: servers see odd ids first).
func New(isServer bool) *Set {
	return &Set{streams: make(map[uint64]*streamState), isServer: isServer}
}

func (s *Set) Initialize(maxStreamsBidi, maxStreamsUni uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxStreamsBidi = maxStreamsBidi
	s.maxStreamsUni = maxStreamsUni
}

func (s *Set) UpdateMaxStreams(bidi bool, max uint64) (blockedIndicated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bidi {
		if max > s.maxStreamsBidi {
			s.maxStreamsBidi = max
		}
		return s.peerStreamsBidiOpened >= s.maxStreamsBidi
	}
	if max > s.maxStreamsUni {
		s.maxStreamsUni = max
	}
	return s.peerStreamsUniOpened >= s.maxStreamsUni
}

// isPeerInitiated reports whether streamID's low bit marks it as opened
// by the remote side of this connection (RFC 9000 §2.1).
func (s *Set) isPeerInitiated(streamID uint64) bool {
	clientInitiated := streamID&0x1 == 0
	return s.isServer == clientInitiated
}

func (s *Set) isBidi(streamID uint64) bool { return streamID&0x2 == 0 }

// GetOrCreateForPeer implements spec.md §4.2 step 5's stream lookup rule:
// an unknown peer-initiated stream id is created subject to limits; an
// unknown locally-initiated id (the peer referencing a stream we never
// opened) is a protocol error.
func (s *Set) GetOrCreateForPeer(streamID uint64) (exists bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[streamID]; ok {
		return true, nil
	}
	if !s.isPeerInitiated(streamID) {
		return false, fmt.Errorf("streamset: reference to unknown locally-initiated stream %d", streamID)
	}
	bidi := s.isBidi(streamID)
	if bidi && s.peerStreamsBidiOpened >= s.maxStreamsBidi {
		return false, fmt.Errorf("streamset: bidi stream %d exceeds limit %d", streamID, s.maxStreamsBidi)
	}
	if !bidi && s.peerStreamsUniOpened >= s.maxStreamsUni {
		return false, fmt.Errorf("streamset: uni stream %d exceeds limit %d", streamID, s.maxStreamsUni)
	}
	s.streams[streamID] = &streamState{id: streamID}
	if bidi {
		s.peerStreamsBidiOpened++
	} else {
		s.peerStreamsUniOpened++
	}
	return false, nil
}

func (s *Set) Dispatch(streamID uint64, frameType byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return fmt.Errorf("streamset: dispatch to unknown stream %d", streamID)
	}
	st.bytesSeen += uint64(len(payload))
	return nil
}

func (s *Set) ShutdownAll(errorCode uint64, appError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams {
		st.closed = true
	}
}

// DrainClosed removes streams that finished on both directions; this
// table has no half-close tracking yet, so it removes everything marked
// closed by ShutdownAll (spec.md §4.1 FLUSH_STREAM_RECV operation).
func (s *Set) DrainClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.streams {
		if st.closed {
			delete(s.streams, id)
		}
	}
}

// Rundown implements the TRACE_RUNDOWN operation: a no-op here since
// this Set keeps no external trace/telemetry handle to replay.
func (s *Set) Rundown() {}

func (s *Set) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}
