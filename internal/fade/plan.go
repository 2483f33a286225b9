// Package fade implements timed transitions between bulb states: an
// eased interpolation across a fixed step count, driven by a re-arming
// timer, with at most one plan active per engine at any time.
package fade

import (
	"math"
	"time"

	"github.com/google/uuid"

	"wizd/internal/wiz"
)

// Default shape of a transition when the caller does not specify one.
const (
	DefaultSteps    = 20
	DefaultDuration = 1000 * time.Millisecond
)

// Values is a fully resolved parameter set: every interpolated field has a
// concrete value. Transitions never interpolate from or to "unknown".
type Values struct {
	Dimming int `json:"dimming"`
	Temp    int `json:"temp"`
	R       int `json:"r"`
	G       int `json:"g"`
	B       int `json:"b"`
}

// DefaultValues is the baseline of last resort, used when a bulb never
// answered a state query and nothing has been cached yet.
var DefaultValues = Values{Dimming: 60, Temp: 3500, R: 255, G: 120, B: 40}

// Merge overlays the present fields of st onto v.
func (v Values) Merge(st *wiz.LightState) Values {
	if st == nil {
		return v
	}
	if st.Dimming != nil {
		v.Dimming = *st.Dimming
	}
	if st.Temp != nil {
		v.Temp = *st.Temp
	}
	if st.R != nil {
		v.R = *st.R
	}
	if st.G != nil {
		v.G = *st.G
	}
	if st.B != nil {
		v.B = *st.B
	}
	return v
}

// Pilot converts the resolved values into a setPilot parameter set.
func (v Values) Pilot() wiz.LightState {
	return wiz.LightState{
		Dimming: wiz.Int(v.Dimming),
		Temp:    wiz.Int(v.Temp),
		R:       wiz.Int(v.R),
		G:       wiz.Int(v.G),
		B:       wiz.Int(v.B),
	}
}

// Plan is one transition: ephemeral, owned by the in-flight fade, gone on
// completion or preemption.
type Plan struct {
	ID       string        `json:"id"`
	Start    Values        `json:"start"`
	End      Values        `json:"end"`
	Steps    int           `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// NewPlan resolves a target against a baseline. Fields the target leaves
// out inherit the baseline value, so they hold steady instead of drifting
// to zero.
func NewPlan(baseline Values, target wiz.LightState, duration time.Duration, steps int) Plan {
	if steps <= 0 {
		steps = DefaultSteps
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Plan{
		ID:       uuid.NewString(),
		Start:    baseline,
		End:      baseline.Merge(&target),
		Steps:    steps,
		Duration: duration,
	}
}

// Interval is the spacing between steps, never below one millisecond.
func (p Plan) Interval() time.Duration {
	interval := p.Duration / time.Duration(p.Steps)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// At returns the interpolated values at step i (0..Steps). Step 0 is the
// baseline, step Steps is exactly the resolved target.
func (p Plan) At(i int) Values {
	if i <= 0 {
		return p.Start
	}
	if i >= p.Steps {
		return p.End
	}
	w := easeInOut(float64(i) / float64(p.Steps))
	return Values{
		Dimming: lerp(p.Start.Dimming, p.End.Dimming, w),
		Temp:    lerp(p.Start.Temp, p.End.Temp, w),
		R:       lerp(p.Start.R, p.End.R, w),
		G:       lerp(p.Start.G, p.End.G, w),
		B:       lerp(p.Start.B, p.End.B, w),
	}
}

// easeInOut is a raised-cosine weight: w(0)=0, w(1)=1, symmetric
// acceleration then deceleration.
func easeInOut(alpha float64) float64 {
	return 0.5 - 0.5*math.Cos(math.Pi*alpha)
}

func lerp(start, end int, w float64) int {
	return int(math.Round(float64(start) + float64(end-start)*w))
}
