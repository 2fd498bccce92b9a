package ledger

import (
	"testing"
	"time"
)

func TestAdaptiveBatcherDefaultsToMax(t *testing.T) {
	b := NewAdaptiveBatcher(100, 1000)
	if got := b.BatchSize(); got != 1000 {
		t.Errorf("idle batch size = %d, want 1000", got)
	}
}

func TestAdaptiveBatcherShrinksUnderBurst(t *testing.T) {
	b := NewAdaptiveBatcher(100, 1000)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	b.now = func() time.Time { return current }

	// >10 writes/sec over the 60s window: 601 writes in the last minute.
	for i := 0; i < 601; i++ {
		current = base.Add(time.Duration(i) * 90 * time.Millisecond)
		b.RecordWrite()
	}
	if got := b.BatchSize(); got != 100 {
		t.Errorf("burst batch size = %d, want 100", got)
	}
}

func TestAdaptiveBatcherRecoversAfterSilence(t *testing.T) {
	b := NewAdaptiveBatcher(100, 1000)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	b.now = func() time.Time { return current }

	for i := 0; i < 700; i++ {
		b.RecordWrite()
	}
	if got := b.BatchSize(); got != 100 {
		t.Fatalf("burst batch size = %d, want 100", got)
	}

	// After 60s of silence the window drains and the batch returns to max.
	current = base.Add(61 * time.Second)
	if got := b.BatchSize(); got != 1000 {
		t.Errorf("post-silence batch size = %d, want 1000", got)
	}
}

func TestAdaptiveBatcherClampsBounds(t *testing.T) {
	b := NewAdaptiveBatcher(0, 0)
	if b.Min() != 100 {
		t.Errorf("min = %d, want default 100", b.Min())
	}
	if b.Max() < b.Min() {
		t.Errorf("max %d below min %d", b.Max(), b.Min())
	}
}
