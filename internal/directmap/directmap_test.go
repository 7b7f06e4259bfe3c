package directmap

import (
	"testing"

	"github.com/orizon-lang/oalloc/internal/osmem"
)

func TestNewRoundsUpToPage(t *testing.T) {
	mem := osmem.Default()

	m, err := New(mem, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Release()

	if m.Length() < mem.PageSize() {
		t.Fatalf("Length() = %d, want at least one page", m.Length())
	}

	if m.Base() == 0 {
		t.Fatalf("Base() should not be null")
	}
}

func TestReleaseTwiceReportsDoubleFree(t *testing.T) {
	m, err := New(osmem.Default(), 4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}

	if err := m.Release(); err != ErrDoubleFree {
		t.Fatalf("second Release: err = %v, want ErrDoubleFree", err)
	}

	if m.State() != StateFreed {
		t.Fatalf("State() = %v, want StateFreed", m.State())
	}
}

func TestReleaseSizedRejectsWrongLength(t *testing.T) {
	m, err := New(osmem.Default(), 4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.ReleaseSized(1); err != ErrWrongSize {
		t.Fatalf("ReleaseSized(1): err = %v, want ErrWrongSize", err)
	}

	if err := m.ReleaseSized(m.Length()); err != nil {
		t.Fatalf("ReleaseSized(actual length): %v", err)
	}
}

func TestResizeAfterReleaseFails(t *testing.T) {
	m, err := New(osmem.Default(), 4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, ok := m.Resize(8192); ok {
		t.Fatalf("Resize should fail once the mapping has been released")
	}
}
