package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreSane(t *testing.T) {
	c := Default()

	if c.DirectMapThreshold != 1<<16 {
		t.Fatalf("DirectMapThreshold = %d, want 65536", c.DirectMapThreshold)
	}

	if c.ClasRegs <= 0 || c.Bin <= 0 || c.BinFull <= 0 {
		t.Fatalf("non-positive tuning default: %+v", c)
	}
}

func TestOptionsApplyInOrder(t *testing.T) {
	c := New(
		WithCheckLevel(CheckDetect|CheckPrint),
		WithTraceLevel(9), // clamps to 7
		WithTrim(10, 2, time.Second),
	)

	if c.CheckLevel != CheckDetect|CheckPrint {
		t.Fatalf("CheckLevel = %v", c.CheckLevel)
	}

	if c.TraceLevel != 7 {
		t.Fatalf("TraceLevel = %d, want clamped 7", c.TraceLevel)
	}

	if c.RegionInterval != 10 || c.TrimScan != 2 || c.TrimAge != time.Second {
		t.Fatalf("trim tuning not applied: %+v", c)
	}
}

func TestInitRejectsUnsatisfiedVersionConstraint(t *testing.T) {
	c := New(WithRequireVersion(">= 2.0.0"))

	if err := Init(c, "1.4.0"); err == nil {
		t.Fatal("expected Init to reject 1.4.0 against >= 2.0.0")
	}

	if err := Init(c, "2.1.0"); err != nil {
		t.Fatalf("Init rejected a satisfying version: %v", err)
	}
}

func TestFromFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oalloc.conf")

	body := "# comment\ncheck-level=3\ntrace-level=5\n\ndirect-map-threshold=4096\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := FromFile(Default(), path)
	if err != nil {
		t.Fatal(err)
	}

	if c.CheckLevel != 3 {
		t.Fatalf("CheckLevel = %v, want 3", c.CheckLevel)
	}

	if c.TraceLevel != 5 {
		t.Fatalf("TraceLevel = %d, want 5", c.TraceLevel)
	}

	if c.DirectMapThreshold != 4096 {
		t.Fatalf("DirectMapThreshold = %d, want 4096", c.DirectMapThreshold)
	}
}

func TestFromEnvironOverlay(t *testing.T) {
	t.Setenv("OALLOC_CHECK_LEVEL", "7")
	t.Setenv("OALLOC_TRACE_LEVEL", "2")

	c := FromEnviron(Default())

	if c.CheckLevel != 7 {
		t.Fatalf("CheckLevel = %v, want 7", c.CheckLevel)
	}

	if c.TraceLevel != 2 {
		t.Fatalf("TraceLevel = %d, want 2", c.TraceLevel)
	}
}

func TestReloadableKeysOnlyTouchSafeFields(t *testing.T) {
	keys := ReloadableKeys()

	for _, k := range []string{"check-level", "trace-level", "stats-print"} {
		if !keys[k] {
			t.Fatalf("expected %q to be reloadable", k)
		}
	}

	if keys["direct-map-threshold"] {
		t.Fatal("direct-map-threshold must not be hot-reloadable")
	}
}
