package calib

import (
	"fmt"
	"sort"

	"github.com/banshee-data/calib/internal/store"
)

// Kind selects the algorithm family of a profile.
type Kind int

const (
	KindTime Kind = iota
	KindQuadEnergy
	KindTargetPosition
	KindPIDEnergy
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindQuadEnergy:
		return "quad-energy"
	case KindTargetPosition:
		return "target-position"
	case KindPIDEnergy:
		return "pid-energy"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// GainRule selects how a time offset converts the fitted peak position.
type GainRule int

const (
	// GainNone adds the peak position directly (rise time).
	GainNone GainRule = iota
	// GainConfig divides by "<profile>.TDCGain", default 0.11771 ns/channel.
	GainConfig
	// GainStored divides by per-element gains read from Profile.GainData.
	GainStored
)

// BackgroundRule selects the linear background term of the time fit.
type BackgroundRule int

const (
	// BackgroundNone fixes the linear background to zero.
	BackgroundNone BackgroundRule = iota
	// BackgroundLinear fits the linear background.
	BackgroundLinear
)

// Profile describes one registered calibration.
type Profile struct {
	// Name is also the configuration key prefix.
	Name  string
	Title string
	Kind  Kind
	// Data lists the constant kinds the profile writes, in array order.
	Data     []store.DataKind
	Elements int

	Gain       GainRule
	GainData   store.DataKind
	Background BackgroundRule
	SigmaLo    float64
	SigmaHi    float64

	// Label names the constant in the report ("offset", "rise time").
	Label     string
	MarkHoles bool
	// Defaults are the values used when the store holds nothing, one per
	// Data entry. They are also the identity of correction kinds.
	Defaults []float64
}

var profiles = map[string]Profile{
	"CB.Time": {
		Name: "CB.Time", Title: "CB time calibration", Kind: KindTime,
		Data: []store.DataKind{store.CBT0}, Elements: 720,
		Gain: GainConfig, Background: BackgroundNone, SigmaLo: 0, SigmaHi: 20,
		Label: "offset", MarkHoles: true, Defaults: []float64{0},
	},
	"CB.RiseTime": {
		Name: "CB.RiseTime", Title: "CB rise time calibration", Kind: KindTime,
		Data: []store.DataKind{store.CBRise}, Elements: 720,
		Gain: GainNone, Background: BackgroundNone, SigmaLo: 0, SigmaHi: 20,
		Label: "rise time", MarkHoles: true, Defaults: []float64{0},
	},
	"TAPS.Time": {
		Name: "TAPS.Time", Title: "TAPS time calibration", Kind: KindTime,
		Data: []store.DataKind{store.TAPST0}, Elements: 438,
		Gain: GainStored, GainData: store.TAPST1, Background: BackgroundLinear, SigmaLo: 0.1, SigmaHi: 2,
		Label: "offset", Defaults: []float64{0},
	},
	"Veto.Time": {
		Name: "Veto.Time", Title: "Veto time calibration", Kind: KindTime,
		Data: []store.DataKind{store.VetoT0}, Elements: 438,
		Gain: GainStored, GainData: store.VetoT1, Background: BackgroundLinear, SigmaLo: 0, SigmaHi: 20,
		Label: "offset", Defaults: []float64{0},
	},
	"PID.Time": {
		Name: "PID.Time", Title: "PID time calibration", Kind: KindTime,
		Data: []store.DataKind{store.PIDT0}, Elements: 24,
		Gain: GainConfig, Background: BackgroundNone, SigmaLo: 0, SigmaHi: 20,
		Label: "offset", Defaults: []float64{0},
	},
	"Tagger.Time": {
		Name: "Tagger.Time", Title: "Tagger time calibration", Kind: KindTime,
		Data: []store.DataKind{store.TaggT0}, Elements: 352,
		Gain: GainConfig, Background: BackgroundLinear, SigmaLo: 0, SigmaHi: 20,
		Label: "offset", Defaults: []float64{0},
	},
	"CB.QuadEnergy": {
		Name: "CB.QuadEnergy", Title: "CB quadratic energy correction", Kind: KindQuadEnergy,
		Data: []store.DataKind{store.CBEQuad0, store.CBEQuad1}, Elements: 720,
		MarkHoles: true, Defaults: []float64{1, 0},
	},
	"Target.Position": {
		Name: "Target.Position", Title: "Target position calibration", Kind: KindTargetPosition,
		Data: []store.DataKind{store.TargetPos}, Defaults: []float64{0},
	},
	"PID.Energy": {
		Name: "PID.Energy", Title: "PID energy calibration", Kind: KindPIDEnergy,
		Data: []store.DataKind{store.PIDE0, store.PIDE1}, Elements: 24,
		Defaults: []float64{0, 0},
	},
}

// LookupProfile returns the registered profile called name.
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Profiles returns every registered profile sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// New constructs the module for the named profile.
func New(name string, env Env) (Module, error) {
	p, ok := LookupProfile(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	switch p.Kind {
	case KindTime:
		return NewTime(p, env), nil
	case KindQuadEnergy:
		return NewQuadEnergy(env), nil
	case KindTargetPosition:
		t, err := NewTargetPosition(env)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindPIDEnergy:
		return NewPIDEnergy(env), nil
	default:
		return nil, fmt.Errorf("%w: %q has kind %s", ErrUnknownProfile, name, p.Kind)
	}
}
