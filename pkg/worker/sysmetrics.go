package worker

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemMetrics samples CPU and memory usage as percentages in
// [0,100]. Failures degrade to zero so a heartbeat always goes out.
func (a *Agent) systemMetrics() (cpuPercent, memPercent float64) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		a.logger.Warn().Err(err).Msg("Failed to sample CPU usage")
	} else {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to sample memory usage")
	} else {
		memPercent = vm.UsedPercent
	}

	return cpuPercent, memPercent
}
