package registry

import "github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"

const (
	DefaultDecayAfter   uint64 = 100
	DefaultSlowInterval uint64 = 50
	DefaultFastInterval uint64 = 3
)

// Policy is the throttling state machine. All thresholds are in ticks.
type Policy struct {
	// DecayAfter is how long FAST survives without the client asking again.
	DecayAfter   uint64
	SlowInterval uint64
	FastInterval uint64
}

func DefaultPolicy() Policy {
	return Policy{
		DecayAfter:   DefaultDecayAfter,
		SlowInterval: DefaultSlowInterval,
		FastInterval: DefaultFastInterval,
	}
}

// Advance applies decay for tick and decides whether the account is due.
// A due context comes back with LastPushTick set to tick.
func (p Policy) Advance(tick uint64, c model.AccountContext) (model.AccountContext, bool) {
	if c.Speed == model.SpeedFast && since(tick, c.LastSpeedChangeTick) > p.DecayAfter {
		c.Speed = model.SpeedSlow
	}

	interval := p.SlowInterval
	if c.Speed == model.SpeedFast {
		interval = p.FastInterval
	}

	if since(tick, c.LastPushTick) < interval {
		return c, false
	}
	c.LastPushTick = tick
	return c, true
}

// SetSpeed records a client request. Decay counts from tick.
func (p Policy) SetSpeed(tick uint64, speed model.Speed, c model.AccountContext) model.AccountContext {
	c.Speed = speed
	c.LastSpeedChangeTick = tick
	return c
}

func since(now, then uint64) uint64 {
	if now < then {
		return 0
	}
	return now - then
}
