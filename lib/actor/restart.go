package actor

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/metrics"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

// newRestartLimiter refills one restart every RestartBurst x RestartInterval.
// A tunnel that keeps failing is restarted every RestartInterval until the
// burst is spent and then at the refill rate.
func newRestartLimiter(cfg Config) *rate.Limiter {
	return rate.NewLimiter(rate.Every(cfg.RestartInterval*time.Duration(cfg.RestartBurst)), cfg.RestartBurst)
}

// scheduleRestartLocked arms a reconnect out of the current blocked state.
func (a *Actor) scheduleRestartLocked() {
	a.stopRestartLocked()

	reservation, delay := a.reserveRestartLocked(time.Now())

	seq := a.restartSeq
	a.restartReservation = reservation
	a.restartTimer = time.AfterFunc(delay, func() { a.autoRestart(seq) })

	a.logger.Info("automatic restart scheduled", "next_retry", delay)
	a.events.emit(Event{
		Type:    EventRestartScheduled,
		State:   tunnelstate.Clone(a.state),
		Message: "automatic restart scheduled",
		Data:    delay,
	})
}

// reserveRestartLocked takes a restart from the limiter at now. The delay is
// never shorter than RestartInterval.
func (a *Actor) reserveRestartLocked(now time.Time) (*rate.Reservation, time.Duration) {
	reservation := a.restartLimiter.ReserveN(now, 1)
	delay := a.config.RestartInterval
	if wait := reservation.DelayFrom(now); wait > delay {
		delay = wait
		metrics.RestartsThrottled.Inc()
	}
	return reservation, delay
}

// stopRestartLocked cancels a pending restart. Callbacks that already fired
// see a stale sequence number and do nothing.
func (a *Actor) stopRestartLocked() {
	if a.restartTimer != nil {
		if a.restartTimer.Stop() && a.restartReservation != nil {
			a.restartReservation.Cancel()
		}
		a.restartTimer = nil
		a.restartReservation = nil
	}
	a.restartSeq++
}

func (a *Actor) autoRestart(seq uint64) {
	a.mu.Lock()
	if a.closed || seq != a.restartSeq {
		a.mu.Unlock()
		return
	}
	a.restartTimer = nil
	a.restartReservation = nil

	if _, ok := a.state.(tunnelstate.Error); !ok {
		a.mu.Unlock()
		return
	}

	metrics.AutomaticRestarts.Inc()
	a.logger.Info("automatic restart", "state", tunnelstate.LogFormat(a.state))
	plan, err := a.planReconnectLocked()
	a.mu.Unlock()

	if err == nil {
		err = a.reconnect(a.ctx, plan)
	}
	if err == nil || errors.IsClosed(err) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.logger.Warn("automatic restart failed", "error", err)
	a.events.emit(Event{
		Type:    EventError,
		State:   tunnelstate.Clone(a.state),
		Error:   err,
		Message: "automatic restart failed",
	})
}
