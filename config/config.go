// Package config holds the allocator's tunable options: the
// check-level / stats-print / trace-level bit masks, the trigger-stats
// debugging hook, and the internal tuning constants. Configuration can
// be built programmatically with functional Options (grounded on
// allocator.Option / allocator.WithArenaSize / allocator.WithTracking
// in internal/allocator/allocator.go), overlaid from a key=value tuning
// file, and further overlaid from the process environment, in that
// precedence order.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	semver "github.com/Masterminds/semver/v3"
)

// CheckLevel bits.
const (
	CheckDetect CheckLevel = 1 << iota
	CheckPrint
	CheckExit
)

// CheckLevel is the bit mask controlling how aggressively misuse is
// diagnosed: 1 detects and counts, 2 additionally prints, 4
// additionally exits the process on any error. No allocator component
// reads it (see Config): errors are counted whatever its value, and
// none is printed or ends the process because of it.
type CheckLevel int

// StatsPrint bits.
const (
	StatsSummary StatsPrint = 1 << iota
	StatsDetail
	StatsTotals
	StatsState
)

// StatsPrint is the bit mask selecting which statistics sections are
// printed at termination.
type StatsPrint int

// TriggerStatsMagic is the `size` argument to allocate-zeroed(0, magic)
// reserved as the "print statistics now" debugging hook.
const TriggerStatsMagic = 0x57a7

// Config is the allocator's full tunable surface. The zero Config is
// invalid; use Default() or New() with Options. oalloc.New reads
// StatsPrint, RequireVersion, RegionInterval, TrimScan and TrimAge; no
// allocator component reads the other fields, so the values in effect
// for those are the constants of the slab, sizeclass, mini and boot
// packages.
type Config struct {
	CheckLevel CheckLevel
	StatsPrint StatsPrint
	TraceLevel int // 0-7

	// ClasRegs bounds how many slab regions a size class keeps as
	// immediate fast-path candidates (class table).
	ClasRegs int
	// ClasBits controls sub-class density above the tiny classes
	// (size classifier).
	ClasBits int
	// Bin and BinFull are the slab recycling bin's capacity and the
	// batch size it drains once full (slab-bin).
	Bin, BinFull int
	// Bumpmax bounds the largest request the mini-heap will serve.
	Bumpmax uintptr
	// DirectMapThreshold is the length at or above which a request
	// bypasses slabs entirely.
	DirectMapThreshold uintptr
	// BootSubpools is the boot pool's hash-partition count.
	BootSubpools int

	// RegionInterval, TrimScan and TrimAge are the heap's trim-pass
	// tuning knobs ("implied by Trim_ages" resolution).
	RegionInterval int
	TrimScan       int
	TrimAge        time.Duration

	// RequireVersion, when non-empty, is a semver constraint this
	// build's Version must satisfy; Init returns an error otherwise.
	RequireVersion string
}

// Default returns the package's compiled-in defaults, matching the
// constants named across this package.
func Default() Config {
	return Config{
		CheckLevel:         CheckDetect,
		StatsPrint:         0,
		TraceLevel:         0,
		ClasRegs:           4,
		ClasBits:           2,
		Bin:                128,
		BinFull:            64,
		Bumpmax:            1024,
		DirectMapThreshold: 1 << 16,
		BootSubpools:       4,
		RegionInterval:     256,
		TrimScan:           8,
		TrimAge:            2 * time.Second,
	}
}

// Option mutates a Config under construction, the functional-options
// shape internal/allocator/allocator.go uses for its own allocator
// (WithArenaSize, WithTracking, ...).
type Option func(*Config)

// WithCheckLevel sets the misuse-detection aggressiveness.
func WithCheckLevel(level CheckLevel) Option {
	return func(c *Config) { c.CheckLevel = level }
}

// WithStatsPrint sets which statistics sections print at termination.
func WithStatsPrint(mask StatsPrint) Option {
	return func(c *Config) { c.StatsPrint = mask }
}

// WithTraceLevel sets the trace verbosity, clamped to [0, 7].
func WithTraceLevel(level int) Option {
	return func(c *Config) {
		if level < 0 {
			level = 0
		}

		if level > 7 {
			level = 7
		}

		c.TraceLevel = level
	}
}

// WithDirectMapThreshold sets DirectMapThreshold. The allocator does not
// read it (see Config); its slab/direct-map boundary stays at the
// sizeclass default.
func WithDirectMapThreshold(length uintptr) Option {
	return func(c *Config) { c.DirectMapThreshold = length }
}

// WithTrim overrides the heap's trim-pass tuning.
func WithTrim(interval, scan int, age time.Duration) Option {
	return func(c *Config) {
		c.RegionInterval = interval
		c.TrimScan = scan
		c.TrimAge = age
	}
}

// WithRequireVersion sets a semver constraint (e.g. ">= 1.2, < 2.0")
// that Init checks this build's Version against.
func WithRequireVersion(constraint string) Option {
	return func(c *Config) { c.RequireVersion = constraint }
}

// New builds a Config from Default() plus opts, in order.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}

	return c
}

// Init validates cfg — currently just the optional version constraint —
// returning an error that callers should treat as fatal, the same way a
// boot-pool exhaustion with no OS fallback is treated as a startup
// failure.
func Init(cfg Config, version string) error {
	if cfg.RequireVersion == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(cfg.RequireVersion)
	if err != nil {
		return fmt.Errorf("config: invalid RequireVersion constraint %q: %w", cfg.RequireVersion, err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("config: invalid build version %q: %w", version, err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("config: build version %s does not satisfy constraint %q", version, cfg.RequireVersion)
	}

	return nil
}

// FromFile overlays cfg with key=value lines read from path (blank
// lines and lines starting with '#' are ignored), mirroring
// original_source/configure.c's overlay-on-top-of-defaults precedence.
func FromFile(cfg Config, path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		applyKV(&cfg, strings.TrimSpace(key), strings.TrimSpace(value))
	}

	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	return cfg, nil
}

// FromEnviron overlays cfg with OALLOC_CHECK_LEVEL, OALLOC_TRACE_LEVEL
// and OALLOC_STATS_PRINT, mirroring original_source/configure.c's
// environment-variable overlay — the last and highest-precedence layer
// before an explicit Option.
func FromEnviron(cfg Config) Config {
	if v, ok := os.LookupEnv("OALLOC_CHECK_LEVEL"); ok {
		applyKV(&cfg, "check-level", v)
	}

	if v, ok := os.LookupEnv("OALLOC_TRACE_LEVEL"); ok {
		applyKV(&cfg, "trace-level", v)
	}

	if v, ok := os.LookupEnv("OALLOC_STATS_PRINT"); ok {
		applyKV(&cfg, "stats-print", v)
	}

	return cfg
}

// reloadableKeys are the keys Watcher is permitted to apply to a live
// Config without a process restart.
var reloadableKeys = map[string]bool{
	"check-level": true,
	"trace-level": true,
	"stats-print": true,
}

func applyKV(cfg *Config, key, value string) {
	switch key {
	case "check-level":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.CheckLevel = CheckLevel(n)
		}
	case "stats-print":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.StatsPrint = StatsPrint(n)
		}
	case "trace-level":
		if n, err := strconv.Atoi(value); err == nil {
			WithTraceLevel(n)(cfg)
		}
	case "direct-map-threshold":
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			cfg.DirectMapThreshold = uintptr(n)
		}
	case "region-interval":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.RegionInterval = n
		}
	case "trim-scan":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.TrimScan = n
		}
	}
}
