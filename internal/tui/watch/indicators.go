package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames once per UI tick. A frozen frame means the
// program stopped receiving ticks.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() { t.index = (t.index + 1) % len(t.frames) }

func (t Ticker) Current() string { return t.frames[t.index] }

// pulseWidth is the number of dots in a full Pulse.
const pulseWidth = 5

// Pulse lights up when the daemon reports activity and fades one dot every
// fadeStep afterwards.
type Pulse struct {
	last     time.Time
	fadeStep time.Duration
}

func NewPulse() Pulse { return Pulse{fadeStep: 2 * time.Second} }

// Hit records activity at now.
func (p *Pulse) Hit(now time.Time) { p.last = now }

// Last returns the time of the most recent activity.
func (p Pulse) Last() time.Time { return p.last }

// Level returns how many dots are lit at now.
func (p Pulse) Level(now time.Time) int {
	if p.last.IsZero() || p.fadeStep <= 0 {
		return 0
	}
	level := pulseWidth - int(now.Sub(p.last)/p.fadeStep)
	return max(0, min(pulseWidth, level))
}

func (p Pulse) Render(theme Theme, now time.Time) string {
	lit := p.Level(now)
	var b strings.Builder
	for i := range pulseWidth {
		if i < lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}
