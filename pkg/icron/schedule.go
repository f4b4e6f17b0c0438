package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last,omitempty"`
	Expression string    `json:"expression"`

	TimeSinceLast time.Duration `json:"-"`
	TimeUntilNext time.Duration `json:"-"`
}

// lookback windows searched for the previous trigger, narrowest first
var lookback = []time.Duration{
	time.Hour,
	24 * time.Hour,
	31 * 24 * time.Hour,
	366 * 24 * time.Hour,
}

// GetTriggerInfo parses a standard five field expression (descriptors such as
// @hourly are accepted) and returns its previous and next firing around refTime.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	nextTime := schedule.Next(refTime)
	prevTime := previous(schedule, refTime)

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       nextTime,
		Last:       prevTime,
	}

	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}

	info.TimeUntilNext = nextTime.Sub(refTime)

	return info, nil
}

func previous(schedule cron.Schedule, refTime time.Time) time.Time {
	for _, window := range lookback {
		var last time.Time
		for t := schedule.Next(refTime.Add(-window)); !t.IsZero() && !t.After(refTime); t = schedule.Next(t) {
			last = t
		}
		if !last.IsZero() {
			return last
		}
	}
	return time.Time{}
}
