package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// LoopState 轮询循环状态
type LoopState int

const (
	StateRunning LoopState = iota
	StateBackingOff
	StateCancelled
)

func (s LoopState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateBackingOff:
		return "backing_off"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Loop runs a cycle repeatedly until ctx is cancelled.
// After a successful cycle it waits Interval (or until the next Schedule tick when set);
// after a failed or panicking cycle it waits Backoff.
type Loop struct {
	Name     string
	Interval time.Duration
	Backoff  time.Duration
	Schedule cron.Schedule
	OnState  func(LoopState)

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	state LoopState
}

func NewLoop(name string, interval, backoff time.Duration) *Loop {
	return &Loop{
		Name:     name,
		Interval: interval,
		Backoff:  backoff,
		now:      time.Now,
		sleep:    Sleep,
	}
}

// WithSchedule parses a standard cron spec (descriptors like "@every 1h" accepted).
func (l *Loop) WithSchedule(spec string) (*Loop, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	l.Schedule = sched
	return l, nil
}

func (l *Loop) State() LoopState { return l.state }

func (l *Loop) Run(ctx context.Context, cycle func(context.Context) error) error {
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = Sleep
	}

	for {
		if ctx.Err() != nil {
			l.transition(StateCancelled)
			return ctx.Err()
		}

		l.transition(StateRunning)
		err := l.runCycle(ctx, cycle)
		if ctx.Err() != nil {
			l.transition(StateCancelled)
			return ctx.Err()
		}

		wait := l.nextWait()
		if err != nil {
			l.transition(StateBackingOff)
			wait = l.Backoff
			log.Error().Err(err).Str("loop", l.Name).Dur("backoff", wait).Msg("cycle failed, backing off")
		}

		if err := l.sleep(ctx, wait); err != nil {
			l.transition(StateCancelled)
			return err
		}
	}
}

func (l *Loop) runCycle(ctx context.Context, cycle func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return cycle(ctx)
}

func (l *Loop) nextWait() time.Duration {
	if l.Schedule == nil {
		return l.Interval
	}
	now := l.now()
	if d := l.Schedule.Next(now).Sub(now); d > 0 {
		return d
	}
	return 0
}

func (l *Loop) transition(s LoopState) {
	if l.state == s && s != StateRunning {
		return
	}
	l.state = s
	if l.OnState != nil {
		l.OnState(s)
	}
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsCancelled reports whether err comes from context cancellation or deadline.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
