package engine

import (
	"context"
	"fmt"
	"io"
)

// Status is the availability of one engine in the chain.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
	Timeout   string `json:"timeout"`
}

// CheckAll checks every engine in the chain and writes one line per engine to
// w (which may be nil). An unavailable engine is not an error: the chain
// falls through it at conversion time. CheckAll fails only when no engine at
// all can run.
func CheckAll(ctx context.Context, c *Chain, w io.Writer) ([]Status, error) {
	if w == nil {
		w = io.Discard
	}
	statuses := make([]Status, 0, c.Len())
	ready := 0
	for _, e := range c.Engines() {
		st := Status{Name: e.Name(), Available: true, Timeout: c.Timeout(e.Name()).String()}
		if ch, ok := e.(Checker); ok {
			if err := ch.Check(ctx); err != nil {
				st.Available = false
				st.Detail = err.Error()
			}
		}
		if st.Available {
			ready++
			fmt.Fprintf(w, "engine %s: ready\n", st.Name)
		} else {
			fmt.Fprintf(w, "engine %s: unavailable (%s)\n", st.Name, st.Detail)
		}
		statuses = append(statuses, st)
	}
	if ready == 0 {
		return statuses, fmt.Errorf("no conversion engine is available")
	}
	return statuses, nil
}
