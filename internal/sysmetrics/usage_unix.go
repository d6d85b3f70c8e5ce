//go:build linux || darwin

package sysmetrics

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// Sample reads the resource usage of the current process
func Sample() (Usage, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return Usage{}, fmt.Errorf("getrusage: %w", err)
	}

	maxRSS := int64(ru.Maxrss)
	if runtime.GOOS == "darwin" {
		// bytes on darwin, kilobytes on linux
		maxRSS /= 1024
	}

	return Usage{
		Timestamp: time.Now().UTC(),
		UserCPU:   timevalSeconds(ru.Utime),
		SysCPU:    timevalSeconds(ru.Stime),
		MaxRSS:    maxRSS,
	}, nil
}

func timevalSeconds(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}
