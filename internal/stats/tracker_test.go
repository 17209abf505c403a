package stats

import (
	"math"
	"testing"
)

func TestRecordEvictsOldestFirst(t *testing.T) {
	tr := NewTracker(0)
	if tr.Capacity() != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, tr.Capacity())
	}

	for i := 0; i < 250; i++ {
		tr.Record("music", float32(i)/1000)
		if tr.Len("music") > DefaultCapacity {
			t.Fatalf("history exceeded capacity: %d", tr.Len("music"))
		}
	}

	samples := tr.Samples("music")
	if len(samples) != DefaultCapacity {
		t.Fatalf("expected %d samples, got %d", DefaultCapacity, len(samples))
	}
	if samples[0] != float32(150)/1000 {
		t.Fatalf("expected oldest retained sample 0.150, got %v", samples[0])
	}
	if samples[len(samples)-1] != float32(249)/1000 {
		t.Fatalf("expected newest sample 0.249, got %v", samples[len(samples)-1])
	}
}

func TestPeakRecomputedAfterEviction(t *testing.T) {
	tr := NewTracker(3)
	tr.Record("sfx", 0.9)
	tr.Record("sfx", 0.2)
	tr.Record("sfx", 0.3)
	if got := tr.Peak("sfx"); got != 0.9 {
		t.Fatalf("expected peak 0.9, got %v", got)
	}

	if got := tr.Record("sfx", 0.1); got != 0.3 {
		t.Fatalf("expected peak 0.3 after evicting 0.9, got %v", got)
	}
	if got := tr.Record("sfx", 0.5); got != 0.5 {
		t.Fatalf("expected peak 0.5, got %v", got)
	}
}

func TestSummary(t *testing.T) {
	tr := NewTracker(DefaultCapacity)
	for _, v := range []float32{0.2, 0.4, 0.6} {
		tr.Record("voice", v)
	}

	s := tr.Summary("voice")
	if s.Count != 3 {
		t.Fatalf("expected 3 samples, got %d", s.Count)
	}
	if s.Peak != 0.6 {
		t.Fatalf("expected peak 0.6, got %v", s.Peak)
	}
	if math.Abs(float64(s.Average)-0.4) > 1e-6 {
		t.Fatalf("expected average 0.4, got %v", s.Average)
	}
	wantRMS := math.Sqrt((0.04 + 0.16 + 0.36) / 3)
	if math.Abs(float64(s.RMS)-wantRMS) > 1e-6 {
		t.Fatalf("expected rms %v, got %v", wantRMS, s.RMS)
	}
	if math.Abs(float64(s.Min)-0.2) > 1e-6 {
		t.Fatalf("expected min 0.2, got %v", s.Min)
	}

	if empty := tr.Summary("missing"); empty.Count != 0 || empty.Peak != 0 {
		t.Fatalf("expected zero summary, got %+v", empty)
	}
}

func TestResetAndIDs(t *testing.T) {
	tr := NewTracker(10)
	tr.Record("b", 0.1)
	tr.Record("a", 0.1)

	ids := tr.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	tr.Remove("a")
	if tr.Len("a") != 0 {
		t.Fatal("expected removed history to be empty")
	}

	tr.Reset()
	if len(tr.IDs()) != 0 {
		t.Fatalf("expected no ids after reset, got %v", tr.IDs())
	}
}
