package playback

import (
	"testing"
	"time"
)

func TestCommandQueue_fifo_and_full(t *testing.T) {
	q := newCommandQueue(3)

	for _, k := range []commandKind{cmdPlay, cmdPause, cmdResume} {
		if !q.tryPush(command{kind: k}) {
			t.Fatalf("push %v failed", k)
		}
	}
	if q.tryPush(command{kind: cmdStop}) {
		t.Fatal("push into full queue succeeded")
	}
	if q.len() != 3 {
		t.Errorf("expected len 3, got %d", q.len())
	}

	for _, want := range []commandKind{cmdPlay, cmdPause, cmdResume} {
		c, ok := q.pop(false)
		if !ok || c.kind != want {
			t.Fatalf("expected %v, got %v ok=%v", want, c.kind, ok)
		}
	}
	if _, ok := q.pop(false); ok {
		t.Error("pop on empty queue returned a command")
	}
}

func TestCommandQueue_wraps(t *testing.T) {
	q := newCommandQueue(2)
	for i := 0; i < 5; i++ {
		if !q.tryPush(command{kind: cmdStep}) || !q.tryPush(command{kind: cmdStop}) {
			t.Fatalf("round %d: push failed", i)
		}
		if c, _ := q.pop(false); c.kind != cmdStep {
			t.Fatalf("round %d: expected step, got %v", i, c.kind)
		}
		if c, _ := q.pop(false); c.kind != cmdStop {
			t.Fatalf("round %d: expected stop, got %v", i, c.kind)
		}
	}
}

func TestCommandQueue_pop_waits(t *testing.T) {
	q := newCommandQueue(1)
	got := make(chan commandKind, 1)
	go func() {
		c, _ := q.pop(true)
		got <- c.kind
	}()

	select {
	case <-got:
		t.Fatal("pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.tryPush(command{kind: cmdClear})
	select {
	case k := <-got:
		if k != cmdClear {
			t.Errorf("expected clear, got %v", k)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestCommandQueue_drain(t *testing.T) {
	q := newCommandQueue(4)
	q.tryPush(command{kind: cmdPause})
	q.tryPush(command{kind: cmdResume})

	out := q.drain()
	if len(out) != 2 || out[0].kind != cmdPause || out[1].kind != cmdResume {
		t.Errorf("unexpected drain result %+v", out)
	}
	if q.len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.len())
	}
	if q.drain() != nil {
		t.Error("second drain should be empty")
	}
}
