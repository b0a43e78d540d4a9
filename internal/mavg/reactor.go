package mavg

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"xenoflow/internal/launcher"
)

// Notifier is the subset of *notify.Notifier this package depends on,
// kept as an interface so tests can stub delivery.
type Notifier interface {
	Send(ctx context.Context, ev NotifyEvent) error
}

// NotifyEvent mirrors notify.Event's shape without importing the notify
// package here, avoiding a dependency cycle risk if notify ever needs
// mavg's types.
type NotifyEvent struct {
	Window   string
	Key      string
	FieldIdx int
	Value    uint64
	Limit    uint64
	Over     bool
}

// ScriptReactor implements Reactor by launching the configured
// action/back2norm script through a rate-limited launcher.Launcher and,
// when a NotifyURL is set on the firing limit, forwarding the event to
// Notifier as well — spec.md §6's "reactor task" combining both channels
// original_source and the supplemented webhook path each support.
//
// The script receives four arguments: the window name, the key as hex,
// the value and the limit. The monitoring-object name, the limit name,
// the notification file path and the per-field rendered key values are
// not passed.
type ScriptReactor struct {
	Launcher *launcher.Launcher
	Notifier Notifier
}

func (s *ScriptReactor) Fire(fc FireContext) {
	if s.Launcher != nil && fc.ActionScript != "" {
		args := []string{
			fc.Window,
			fmt.Sprintf("%x", fc.Key),
			fmt.Sprintf("%d", fc.Value),
			fmt.Sprintf("%d", fc.Limit),
		}
		if err := s.Launcher.Run(fc.ActionScript, args...); err != nil {
			logrus.WithError(err).WithField("script", fc.ActionScript).
				Warn("mavg: reactor script launch failed")
		}
	}

	if s.Notifier != nil && fc.NotifyURL != "" {
		ev := NotifyEvent{
			Window:   fc.Window,
			Key:      fmt.Sprintf("%x", fc.Key),
			FieldIdx: fc.FieldIdx,
			Value:    fc.Value,
			Limit:    fc.Limit,
			Over:     fc.Over,
		}
		if err := s.Notifier.Send(context.Background(), ev); err != nil {
			logrus.WithError(err).Warn("mavg: reactor webhook delivery failed")
		}
	}
}
