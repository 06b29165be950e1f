package playback

import (
	"errors"
	"testing"
	"time"

	"nvr-playback/internal/transport"
)

func allocateT(t *testing.T, tb *table, owner OwnerID) *session {
	t.Helper()
	tr, _ := transport.For(transport.KindPlain)
	s, err := tb.allocate(owner, 0, transport.KindPlain, tr, time.Now())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	return s
}

func TestSessionID_parts(t *testing.T) {
	id := newSessionID(513, 7)
	if id.Slot() != 513 || id.Generation() != 7 {
		t.Errorf("got slot %d gen %d", id.Slot(), id.Generation())
	}
}

func TestTable_allocate_until_full(t *testing.T) {
	tb := newTable(2, 4)

	a := allocateT(t, tb, "alice")
	b := allocateT(t, tb, "alice")
	if a.slot != 0 || b.slot != 1 {
		t.Errorf("expected lowest slots first, got %d and %d", a.slot, b.slot)
	}
	if _, err := tb.allocate("alice", 0, transport.KindPlain, nil, time.Now()); !errors.Is(err, ErrNoFreeSession) {
		t.Errorf("expected ErrNoFreeSession, got %v", err)
	}
	if tb.count() != 2 {
		t.Errorf("expected 2 busy, got %d", tb.count())
	}
}

func TestTable_release_and_reuse(t *testing.T) {
	tb := newTable(1, 4)

	s := allocateT(t, tb, "alice")
	oldID := s.id()
	s.queue.tryPush(command{kind: cmdStop})

	leftover := tb.release(s)
	if len(leftover) != 1 || leftover[0].kind != cmdStop {
		t.Errorf("expected queued stop returned, got %+v", leftover)
	}
	if tb.release(s) != nil {
		t.Error("second release should be a no-op")
	}
	if tb.count() != 0 {
		t.Errorf("expected 0 busy, got %d", tb.count())
	}

	s2 := allocateT(t, tb, "bob")
	if s2.slot != s.slot {
		t.Fatalf("expected slot reuse")
	}
	if s2.id() == oldID {
		t.Error("reused slot kept the old id")
	}
	err := tb.withAnySession(oldID, func(*session) error { return nil })
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("stale id: expected ErrInvalidSession, got %v", err)
	}
}

func TestTable_withSession(t *testing.T) {
	tb := newTable(4, 4)
	s := allocateT(t, tb, "alice")

	called := false
	if err := tb.withSession(s.id(), "alice", func(*session) error { called = true; return nil }); err != nil || !called {
		t.Errorf("owner call: err=%v called=%v", err, called)
	}
	if err := tb.withSession(s.id(), "mallory", func(*session) error { return nil }); !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("expected ErrOwnerMismatch, got %v", err)
	}
	if err := tb.withSession(newSessionID(3, 1), "alice", func(*session) error { return nil }); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("free slot: expected ErrInvalidSession, got %v", err)
	}
	if err := tb.withSession(newSessionID(99, 1), "alice", func(*session) error { return nil }); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("out of range: expected ErrInvalidSession, got %v", err)
	}
}

func TestTable_snapshot(t *testing.T) {
	tb := newTable(3, 4)
	allocateT(t, tb, "alice")
	b := allocateT(t, tb, "bob")

	infos := tb.snapshot()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[1].Owner != "bob" || infos[1].State != "awaiting_id" || infos[1].Speed != "1x" {
		t.Errorf("unexpected info %+v", infos[1])
	}
	if infos[0].TraceID == infos[1].TraceID {
		t.Error("trace ids should differ")
	}

	info, err := tb.lookupInfo(b.id())
	if err != nil || info.ID != b.id() {
		t.Errorf("lookupInfo: %+v %v", info, err)
	}
}
