// Package launcher runs action/back2norm/export scripts as detached
// child processes, the way MAVG's reactor and FWM's post-emit hook do in
// original_source. Grounded on original_source/monit-objects-mavg-act.c's
// exec_script: a double-fork (so the script is reparented to init and
// the collector never waits on it) plus setsid, then execve with a fixed
// positional argument list (script, monitoring-object name, window name,
// limit name, the key's field values, then value and limit). Go has no
// fork(); the equivalent detachment is exec.Command with
// SysProcAttr.Setsid, started without Wait.
package launcher

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Launcher starts scripts with a shared rate limit, so a flapping limit
// cannot fork-bomb the host the way an unthrottled original_source
// deployment could.
type Launcher struct {
	limiter *rate.Limiter
}

// New creates a Launcher allowing at most burst script launches
// immediately and ratePerSec thereafter.
func New(ratePerSec float64, burst int) *Launcher {
	return &Launcher{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Run starts script detached with args, passed in the order given; the
// argument list is the caller's choice. Returns immediately; the child is not
// waited on. A script launch that would exceed the configured rate is
// dropped rather than queued, since a queued backlog of stale trigger
// launches is never useful once fired late.
func (l *Launcher) Run(script string, args ...string) error {
	if script == "" {
		return nil
	}
	if !l.limiter.Allow() {
		logrus.WithField("script", script).Warn("launcher: dropped script launch, rate limit exceeded")
		return fmt.Errorf("launcher: rate limit exceeded for %s", script)
	}

	cmd := exec.Command(script, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launcher: start %s: %w", script, err)
	}
	go func() {
		_ = cmd.Wait() // reap to avoid a zombie; the collector never blocks on the result
	}()
	return nil
}
