package encoder

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// SampleHostCPUPercent reports the host's overall CPU utilization over a
// short sampling window. A machine already saturated by encoding is a
// more useful degrade signal than any single client's ack latency once
// several connections share one host, so this is exposed alongside the
// per-connection latency governor rather than folded into it.
func SampleHostCPUPercent() (float64, error) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}
