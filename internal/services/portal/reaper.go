package portal

import (
	"github.com/shirou/gopsutil/v4/process"
	"github.com/ternarybob/arbor"
)

// descendants returns the PIDs of every process below pid. It must be taken
// while the root is alive: once Chrome exits its renderers are reparented
// and can no longer be found from it.
func descendants(pid int) []int32 {
	if pid <= 0 {
		return nil
	}
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	var pids []int32
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		for _, child := range children {
			pids = append(pids, child.Pid)
			queue = append(queue, child)
		}
	}
	return pids
}

// reap kills any of pids still running. A hung renderer otherwise survives
// the browser and holds the download directory open across restarts.
func reap(pids []int32, logger arbor.ILogger) int {
	killed := 0
	for _, pid := range pids {
		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		running, err := p.IsRunning()
		if err != nil || !running {
			continue
		}
		if err := p.Kill(); err != nil {
			logger.Debug().Err(err).Int("pid", int(pid)).Msg("Failed to kill orphaned browser process")
			continue
		}
		killed++
	}

	if killed > 0 {
		logger.Warn().Int("killed", killed).Msg("Reaped orphaned browser processes")
	}
	return killed
}
