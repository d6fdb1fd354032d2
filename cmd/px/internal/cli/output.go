package cli

import (
	"encoding/json"
	"fmt"
	"io"

	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// renderOutcome writes o to w, either as the stable JSON envelope or as
// short human text, matching spec.md §6's "identical information in both
// forms" requirement.
func renderOutcome(w io.Writer, asJSON bool, o pxerr.Outcome) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(o)
		return
	}

	switch o.Status {
	case pxerr.StatusOK:
		fmt.Fprintln(w, o.Message)
	case pxerr.StatusUserError:
		fmt.Fprintf(w, "error: %s\n", o.Message)
		if o.Reason != "" {
			fmt.Fprintf(w, "  reason: %s\n", o.Reason)
		}
		if o.Hint != "" {
			fmt.Fprintf(w, "  hint: %s\n", o.Hint)
		}
	default:
		fmt.Fprintf(w, "internal error: %s\n", o.Message)
	}
}
