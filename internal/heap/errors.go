package heap

import (
	"fmt"

	"github.com/orizon-lang/oalloc/internal/diag"
	"github.com/orizon-lang/oalloc/internal/region"
)

// kindError formats a diagnostic line for the sink; it is never returned
// from the public hot-path API. Allocate/Release/Resize report faults
// through the diagnostics sink plus a bare pointer or bool, matching the
// calling convention of malloc/free rather than Go's idiomatic error
// return.
type kindError struct {
	Kind   diag.ErrorKind
	Ptr    uintptr
	Region *region.Descriptor
}

func (e *kindError) Error() string {
	if e.Region == nil {
		return fmt.Sprintf("%s: pointer %#x is not in any known region", e.Kind, e.Ptr)
	}

	return fmt.Sprintf("%s: pointer %#x, nearest region [%#x, %#x) kind=%s",
		e.Kind, e.Ptr, e.Region.Base, e.Region.Base+e.Region.Length, e.Region.Kind)
}

// releaseFaultKind maps a region.ReleaseFault to the diagnostic kind.
func releaseFaultKind(f region.ReleaseFault) diag.ErrorKind {
	switch f {
	case region.ReleaseDoubleFree:
		return diag.KindDoubleFree
	case region.ReleaseInsideBlock:
		return diag.KindInsideBlock
	default:
		return diag.KindInvalidFree
	}
}
