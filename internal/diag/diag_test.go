package diag

import (
	"net/http"
	"testing"
	"time"
)

func TestCounterIncrementsAndLinesAppend(t *testing.T) {
	s := NewSink()

	s.Count(KindDoubleFree, "pointer %p", (*int)(nil))
	s.Count(KindDoubleFree, "pointer %p", (*int)(nil))

	if got := s.CounterValue(KindDoubleFree); got != 2 {
		t.Fatalf("CounterValue(KindDoubleFree) = %d, want 2", got)
	}

	lines := s.RecentLines()
	if len(lines) != 2 {
		t.Fatalf("len(RecentLines()) = %d, want 2", len(lines))
	}
}

func TestRingWrapsAtCapacity(t *testing.T) {
	s := NewSink()

	for i := 0; i < ringCapacity+10; i++ {
		s.Count(KindInvalidFree, "event %d", i)
	}

	lines := s.RecentLines()
	if len(lines) != ringCapacity {
		t.Fatalf("len(RecentLines()) = %d, want %d", len(lines), ringCapacity)
	}

	if lines[0] != "invalid_free: event 10" {
		t.Fatalf("oldest retained line = %q, want the first line after wraparound", lines[0])
	}
}

func TestHistogramTracksAllocationsAndFrees(t *testing.T) {
	s := NewSink()

	s.RecordAllocation("16")
	s.RecordAllocation("16")
	s.RecordFree("16")

	snap := s.Snapshot()

	if snap["class_16_allocs"] != 2 {
		t.Fatalf("class_16_allocs = %v, want 2", snap["class_16_allocs"])
	}

	if snap["class_16_frees"] != 1 {
		t.Fatalf("class_16_frees = %v, want 1", snap["class_16_frees"])
	}
}

func TestSnapshotIncludesAllErrorKinds(t *testing.T) {
	s := NewSink()

	snap := s.Snapshot()

	for k := ErrorKind(0); k < kindCount; k++ {
		if _, ok := snap[k.String()]; !ok {
			t.Fatalf("Snapshot() missing entry for %s", k)
		}
	}
}

func TestExporterServesSortedMetrics(t *testing.T) {
	s := NewSink()
	s.Count(KindOutOfMemory, "boom")

	e := NewExporter()
	e.Register("sink", s.Snapshot)

	if err := e.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	addr := e.ln.Addr().String()

	var resp *http.Response

	var err error

	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}

		time.Sleep(5 * time.Millisecond)
	}

	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSanitizeMetricTokenReplacesInvalidCharacters(t *testing.T) {
	if got := sanitizeMetricToken("foo.bar-baz"); got != "foo_bar_baz" {
		t.Fatalf("sanitizeMetricToken = %q", got)
	}
}
