package metrics

import "github.com/shirou/gopsutil/v4/cpu"

// cpuReading is cumulative CPU time split into busy and idle:
//
//	busy = user + nice + system + irq + softirq + steal
//	idle = idle + iowait
//
// guest and guestNice are already included in user and nice.
type cpuReading struct {
	busy float64
	idle float64
}

func newCPUReading(t cpu.TimesStat) cpuReading {
	return cpuReading{
		busy: t.User + t.Nice + t.System + t.Irq + t.Softirq + t.Steal,
		idle: t.Idle + t.Iowait,
	}
}

// cpuPercent is the busy share between two readings in [0, 100]. It is 0
// when no time has passed or the counters went backwards.
func cpuPercent(prev, cur cpuReading) float64 {
	busy := cur.busy - prev.busy
	idle := cur.idle - prev.idle
	total := busy + idle
	if total <= 0 || busy < 0 || idle < 0 {
		return 0
	}
	pct := busy / total * 100
	return min(max(pct, 0), 100)
}
