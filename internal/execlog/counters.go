package execlog

import "github.com/REM-Infotech/crawjud-ui/internal/realtime"

// Counts summarizes the progress of an execution from its log.
type Counts struct {
	Total     int
	Successes int
	Errors    int
	Remaining int
}

// Counters tallies success and error lines. Total comes from the last
// message that reports one, falling back to the number of lines.
func Counters(msgs []realtime.LogMessage) Counts {
	var c Counts
	for _, m := range msgs {
		switch m.MessageType {
		case realtime.MessageSuccess:
			c.Successes++
		case realtime.MessageError:
			c.Errors++
		}
		if m.Total > 0 {
			c.Total = m.Total
		}
	}
	if c.Total == 0 {
		c.Total = len(msgs)
	}
	c.Remaining = max(c.Total-(c.Successes+c.Errors), 0)
	return c
}
