package calib

// Report is the per-element outcome written to the report sink.
type Report struct {
	Element      int
	Text         string
	Unchanged    bool
	NoCorrection bool
	Rejected     bool
	Hole         bool
}

// Report flag suffixes.
const (
	FlagUnchanged    = "    -> unchanged"
	FlagNoCorrection = "    -> no correction"
	FlagRejected     = "    -> rejected"
	FlagHole         = " (hole)"
)

// Flags returns the flag suffixes in print order.
func (r Report) Flags() []string {
	var flags []string
	if r.Unchanged {
		flags = append(flags, FlagUnchanged)
	}
	if r.NoCorrection {
		flags = append(flags, FlagNoCorrection)
	}
	if r.Rejected {
		flags = append(flags, FlagRejected)
	}
	if r.Hole {
		flags = append(flags, FlagHole)
	}
	return flags
}

// String formats the report line.
func (r Report) String() string {
	s := r.Text
	for _, f := range r.Flags() {
		s += f
	}
	return s
}
