package streamset

import "testing"

func TestGetOrCreateForPeerCreatesClientInitiatedOnServer(t *testing.T) {
	s := New(true)
	s.Initialize(10, 10)

	// client-initiated bidi stream id (low bits 00) is peer-initiated from
	// the server's perspective.
	exists, err := s.GetOrCreateForPeer(0)
	if err != nil {
		t.Fatalf("GetOrCreateForPeer: %v", err)
	}
	if exists {
		t.Fatalf("expected a freshly created stream, not an existing one")
	}
	if s.Count() != 1 {
		t.Fatalf("expected 1 stream, got %d", s.Count())
	}

	exists, err = s.GetOrCreateForPeer(0)
	if err != nil {
		t.Fatalf("GetOrCreateForPeer second call: %v", err)
	}
	if !exists {
		t.Fatalf("expected second lookup to report existing stream")
	}
	if s.Count() != 1 {
		t.Fatalf("expected still 1 stream after repeat lookup, got %d", s.Count())
	}
}

func TestGetOrCreateForPeerRejectsLocallyInitiatedReference(t *testing.T) {
	s := New(true)
	s.Initialize(10, 10)

	// server-initiated id (low bits 01) referenced from the server side is
	// a reference to a stream the server itself would have to have opened.
	_, err := s.GetOrCreateForPeer(1)
	if err == nil {
		t.Fatalf("expected error referencing an unknown locally-initiated stream")
	}
}

func TestGetOrCreateForPeerEnforcesBidiLimit(t *testing.T) {
	s := New(true)
	s.Initialize(1, 10)

	if _, err := s.GetOrCreateForPeer(0); err != nil {
		t.Fatalf("first bidi stream should succeed: %v", err)
	}
	if _, err := s.GetOrCreateForPeer(4); err == nil {
		t.Fatalf("expected second bidi stream to exceed limit of 1")
	}
}

func TestUpdateMaxStreamsReportsBlockedState(t *testing.T) {
	s := New(true)
	s.Initialize(1, 0)
	s.GetOrCreateForPeer(0)

	blocked := s.UpdateMaxStreams(true, 1)
	if !blocked {
		t.Fatalf("expected blocked=true when opened count already meets the limit")
	}

	blocked = s.UpdateMaxStreams(true, 5)
	if blocked {
		t.Fatalf("expected blocked=false after raising the limit above opened count")
	}
}

func TestDispatchUnknownStreamErrors(t *testing.T) {
	s := New(true)
	s.Initialize(10, 10)
	if err := s.Dispatch(0, 0, []byte("data")); err == nil {
		t.Fatalf("expected error dispatching to a stream that was never created")
	}
}

func TestDispatchTracksBytesSeen(t *testing.T) {
	s := New(true)
	s.Initialize(10, 10)
	s.GetOrCreateForPeer(0)
	if err := s.Dispatch(0, 0, []byte("hello")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if s.streams[0].bytesSeen != 5 {
		t.Fatalf("expected bytesSeen=5, got %d", s.streams[0].bytesSeen)
	}
}

func TestShutdownAllThenDrainClosedEmptiesSet(t *testing.T) {
	s := New(true)
	s.Initialize(10, 10)
	s.GetOrCreateForPeer(0)
	s.GetOrCreateForPeer(4)

	s.ShutdownAll(0, false)
	s.DrainClosed()

	if s.Count() != 0 {
		t.Fatalf("expected 0 streams after shutdown+drain, got %d", s.Count())
	}
}
