package presence

import (
	"testing"
	"time"
)

func TestMarkOnlineOffline(t *testing.T) {
	tr := New()

	tr.MarkOnline(1)
	tr.MarkOnline(2)
	if !tr.IsOnline(1) || !tr.IsOnline(2) {
		t.Error("peers should be online")
	}

	tr.MarkOffline(1)
	if tr.IsOnline(1) {
		t.Error("peer 1 should be offline")
	}
	if !tr.IsOnline(2) {
		t.Error("peer 2 should still be online")
	}
}

func TestMarkOnlineIdempotent(t *testing.T) {
	tr := New()
	tr.MarkOnline(1)
	tr.MarkOnline(1)
	if got := tr.Online(); len(got) != 1 {
		t.Errorf("Online() = %v, want one entry", got)
	}
}

func TestOnlineSorted(t *testing.T) {
	tr := New()
	tr.MarkOnline(5)
	tr.MarkOnline(1)
	tr.MarkOnline(3)

	got := tr.Online()
	want := []int64{1, 3, 5}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("Online() = %v, want %v", got, want)
	}
}

func TestReset(t *testing.T) {
	tr := New()
	tr.MarkOnline(1)
	tr.MarkOnline(2)
	tr.SetTyping(1, true)

	tr.Reset()

	if len(tr.Online()) != 0 {
		t.Errorf("Online() after Reset = %v, want empty", tr.Online())
	}
	if tr.IsTyping(1) {
		t.Error("typing state should be cleared by Reset")
	}
}

func TestReplaceAll(t *testing.T) {
	tr := New()
	tr.MarkOnline(1)
	tr.MarkOnline(2)

	tr.ReplaceAll([]int64{3, 4})

	if tr.IsOnline(1) || tr.IsOnline(2) {
		t.Error("old entries should be gone after ReplaceAll")
	}
	if !tr.IsOnline(3) || !tr.IsOnline(4) {
		t.Error("snapshot entries should be online")
	}
}

func TestTypingDecay(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.now = func() time.Time { return now }

	tr.SetTyping(7, true)
	if !tr.IsTyping(7) {
		t.Fatal("peer should be typing")
	}

	// Advance past the decay window.
	now = now.Add(typingDecay + time.Second)
	if tr.IsTyping(7) {
		t.Error("typing indicator should have decayed")
	}
}

func TestTypingCleared(t *testing.T) {
	tr := New()
	tr.SetTyping(7, true)
	tr.SetTyping(7, false)
	if tr.IsTyping(7) {
		t.Error("typing should be cleared")
	}
}

func TestOfflineDropsTyping(t *testing.T) {
	tr := New()
	tr.MarkOnline(7)
	tr.SetTyping(7, true)
	tr.MarkOffline(7)
	if tr.IsTyping(7) {
		t.Error("going offline should drop the typing indicator")
	}
}
