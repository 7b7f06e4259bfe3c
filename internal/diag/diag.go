// Package diag is the allocator's diagnostics sink: lock-free error-kind
// counters, a bounded ring of formatted diagnostic lines, and a
// per-size-class allocate/free histogram. Nothing on the allocation hot
// path calls into this package's formatting helpers directly — callers
// pass already-classified events, keeping the hot path allocation-free.
//
// Grounded on the counter/exporter split in
// internal/runtime/metrics.go and metrics_exporter.go.
package diag

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrorKind enumerates the allocator's diagnosable error kinds.
type ErrorKind int

const (
	KindOutOfMemory ErrorKind = iota
	KindInvalidFree
	KindDoubleFree
	KindInsideBlock
	KindSizeMismatch
	KindWrongSizeOnResize
	KindLockTimeout

	kindCount
)

func (k ErrorKind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out_of_memory"
	case KindInvalidFree:
		return "invalid_free"
	case KindDoubleFree:
		return "double_free"
	case KindInsideBlock:
		return "inside_block"
	case KindSizeMismatch:
		return "size_mismatch"
	case KindWrongSizeOnResize:
		return "wrong_size_on_resize"
	case KindLockTimeout:
		return "lock_timeout"
	default:
		return "unknown"
	}
}

// ringCapacity bounds the number of formatted diagnostic lines retained,
// keeping diagnostic propagation bounded in length.
const ringCapacity = 64

// Sink accumulates error counters, a bounded diagnostic-line ring, and a
// per-class allocate/free histogram. The zero value is not usable; use
// NewSink.
type Sink struct {
	counters [kindCount]int64 // atomic

	ringMu   sync.Mutex
	ring     [ringCapacity]string
	ringHead int
	ringLen  int

	histMu sync.Mutex
	hist   map[string]*classHistogram
}

type classHistogram struct {
	allocations int64 // atomic
	frees       int64 // atomic
}

// NewSink creates an empty diagnostics sink.
func NewSink() *Sink {
	return &Sink{hist: make(map[string]*classHistogram)}
}

// Count records one occurrence of kind and appends a formatted line to
// the ring, overwriting the oldest entry once the ring is full.
func (s *Sink) Count(kind ErrorKind, format string, args ...any) {
	atomic.AddInt64(&s.counters[kind], 1)

	line := fmt.Sprintf("%s: %s", kind, fmt.Sprintf(format, args...))
	if len(line) > 256 {
		line = line[:256]
	}

	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	idx := (s.ringHead + s.ringLen) % ringCapacity
	s.ring[idx] = line

	if s.ringLen < ringCapacity {
		s.ringLen++
	} else {
		s.ringHead = (s.ringHead + 1) % ringCapacity
	}
}

// CounterValue returns the current count for kind.
func (s *Sink) CounterValue(kind ErrorKind) int64 {
	return atomic.LoadInt64(&s.counters[kind])
}

// RecentLines returns up to the last ringCapacity diagnostic lines,
// oldest first.
func (s *Sink) RecentLines() []string {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	out := make([]string, s.ringLen)
	for i := 0; i < s.ringLen; i++ {
		out[i] = s.ring[(s.ringHead+i)%ringCapacity]
	}

	return out
}

// RecordAllocation adds one allocation to className's histogram bucket,
// creating the bucket on first use.
func (s *Sink) RecordAllocation(className string) {
	atomic.AddInt64(&s.bucket(className).allocations, 1)
}

// RecordFree adds one free to className's histogram bucket.
func (s *Sink) RecordFree(className string) {
	atomic.AddInt64(&s.bucket(className).frees, 1)
}

// bucket returns className's histogram entry, creating it on first use.
// The bucket pointer, once created, is never replaced, so callers may
// keep incrementing its atomic fields after bucket's own lock is
// released.
func (s *Sink) bucket(className string) *classHistogram {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	b, ok := s.hist[className]
	if !ok {
		b = &classHistogram{}
		s.hist[className] = b
	}

	return b
}

// Snapshot returns a name -> float64 map suitable for a MetricFunc
// collector: error-kind counters, plus _allocs/_frees per size class.
func (s *Sink) Snapshot() map[string]float64 {
	out := make(map[string]float64, int(kindCount)+2*len(s.hist))

	for k := ErrorKind(0); k < kindCount; k++ {
		out[k.String()] = float64(s.CounterValue(k))
	}

	s.histMu.Lock()
	names := make([]string, 0, len(s.hist))

	for name := range s.hist {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		b := s.hist[name]
		out["class_"+name+"_allocs"] = float64(atomic.LoadInt64(&b.allocations))
		out["class_"+name+"_frees"] = float64(atomic.LoadInt64(&b.frees))
	}

	s.histMu.Unlock()

	return out
}
