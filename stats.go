package oalloc

import (
	"fmt"
	"sort"

	"github.com/orizon-lang/oalloc/config"
	"github.com/orizon-lang/oalloc/internal/diag"
)

// printStats writes sink's statistics to stdout, gated by mask's
// StatsSummary/StatsDetail/StatsTotals/StatsState bits.
func printStats(sink *diag.Sink, mask config.StatsPrint) {
	if mask == 0 {
		return
	}

	snap := sink.Snapshot()

	if mask&config.StatsSummary != 0 {
		fmt.Println("oalloc stats: summary")

		for _, kind := range []diag.ErrorKind{
			diag.KindOutOfMemory, diag.KindInvalidFree, diag.KindDoubleFree,
			diag.KindInsideBlock, diag.KindSizeMismatch, diag.KindWrongSizeOnResize,
			diag.KindLockTimeout,
		} {
			fmt.Printf("  %s: %d\n", kind, sink.CounterValue(kind))
		}
	}

	if mask&config.StatsDetail != 0 {
		fmt.Println("oalloc stats: per-class detail")

		names := sortedClassNames(snap)
		for _, name := range names {
			fmt.Printf("  class %s: allocs=%.0f frees=%.0f\n", name, snap["class_"+name+"_allocs"], snap["class_"+name+"_frees"])
		}
	}

	if mask&config.StatsTotals != 0 {
		var allocs, frees float64

		for name, v := range snap {
			switch {
			case hasSuffix(name, "_allocs"):
				allocs += v
			case hasSuffix(name, "_frees"):
				frees += v
			}
		}

		fmt.Printf("oalloc stats: totals allocs=%.0f frees=%.0f live=%.0f\n", allocs, frees, allocs-frees)
	}

	if mask&config.StatsState != 0 {
		fmt.Println("oalloc stats: recent diagnostics")

		for _, line := range sink.RecentLines() {
			fmt.Println("  " + line)
		}
	}
}

func sortedClassNames(snap map[string]float64) []string {
	set := make(map[string]bool)

	for name := range snap {
		if hasSuffix(name, "_allocs") {
			set[name[:len(name)-len("_allocs")]] = true
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]string, 0, len(names))

	for _, n := range names {
		out = append(out, n[len("class_"):])
	}

	return out
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
