package extron

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// runner is the state owned by the goroutine serving one link. Only that
// goroutine touches it, which keeps decoding single-threaded.
type runner struct {
	s   *Session
	l   *link
	t   Transport
	dec *Decoder

	state  State
	queue  []*request
	active *request

	commandTimer *time.Timer
	loginTimer   *time.Timer
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func (s *Session) run(l *link, t Transport) {
	r := &runner{
		s:            s,
		l:            l,
		t:            t,
		dec:          NewDecoder(),
		state:        StateConnecting,
		commandTimer: newStoppedTimer(),
		loginTimer:   newStoppedTimer(),
	}

	err := r.loop()
	r.teardown(err)
}

func (r *runner) loop() error {
	if r.s.endpoint.Password != "" {
		r.loginTimer.Reset(r.s.opts.LoginTimeout)
	} else {
		r.becomeReady()
	}

	chunks := r.t.Chunks()
	for {
		if err := r.dispatch(); err != nil {
			return err
		}

		select {
		case req := <-r.l.submit:
			r.s.pending.Add(1)
			r.queue = append(r.queue, req)

		case c, ok := <-chunks:
			if !ok {
				return fmt.Errorf("%w: transport closed", ErrConnectionLost)
			}
			if c.Err != nil {
				return fmt.Errorf("%w: %w", ErrConnectionLost, c.Err)
			}
			r.s.touch()
			if err := r.dec.Feed(c.Data); err != nil {
				return fmt.Errorf("%w: %w", ErrConnectionLost, err)
			}
			for ev := range r.dec.Events() {
				if err := r.handle(ev); err != nil {
					return err
				}
			}

		case <-r.commandTimer.C:
			r.timeoutActive()

		case <-r.loginTimer.C:
			// No prompt, or no rejection, within the login window.
			if r.state == StateConnecting || r.state == StateAuthenticating {
				r.becomeReady()
			}

		case <-r.l.closing:
			return r.l.reason
		}
	}
}

// dispatch writes the next queued command when the active slot is free.
func (r *runner) dispatch() error {
	for r.state == StateReady && r.active == nil && len(r.queue) > 0 {
		req := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]

		if err := req.ctx.Err(); err != nil {
			r.finish(req, nil, err)
			continue
		}

		if err := r.t.Write(req.cmd.Encode()); err != nil {
			lost := fmt.Errorf("%w: %w", ErrConnectionLost, err)
			r.finish(req, nil, lost)
			return lost
		}
		r.s.touch()

		r.active = req
		r.commandTimer.Reset(req.timeout)
		r.s.logger.Debug("Command sent", zap.Stringer("command", req.cmd))
	}
	return nil
}

func (r *runner) handle(ev Event) error {
	logger := r.s.logger

	switch e := ev.(type) {
	case LoginPrompt:
		if r.s.endpoint.Password == "" {
			return &AuthenticationError{Reason: "device requires a password but none is configured"}
		}
		if err := r.t.Write(EncodePassword(r.s.endpoint.Password)); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		r.s.touch()
		r.state = StateAuthenticating
		r.s.transition(r.l, StateAuthenticating)
		r.loginTimer.Reset(r.s.opts.LoginTimeout)
		return nil

	case LoginRejected:
		return &AuthenticationError{Reason: "password rejected"}

	case LoginAccepted:
		logger.Info("Logged in", zap.String("level", e.Level))
		if r.state == StateAuthenticating {
			r.loginTimer.Stop()
			r.becomeReady()
		}
		return nil

	case Banner:
		logger.Debug("Device greeting", zap.String("line", e.Text))
		return nil

	case Unparseable:
		logger.Warn("Unparseable line from device", zap.String("line", e.Raw))
		return nil

	case *DeviceError:
		if r.active == nil {
			logger.Warn("Device error with no command pending", zap.Error(e))
			return nil
		}
		logger.Warn("Command rejected by device",
			zap.Stringer("command", r.active.cmd),
			zap.Error(e))
		r.complete(nil, e)
		return nil
	}

	if r.active != nil {
		if value, ok := r.active.cmd.Resolve(ev); ok {
			if tc, isTie := r.active.cmd.(tieConfirmer); isTie {
				out, in, sig := tc.confirmedTie()
				r.applyTie(out, in, sig, SourceConfirmed)
			}
			r.complete(value, nil)
			return nil
		}
	}

	switch e := ev.(type) {
	case CommandAck:
		r.applyTie(e.Output, e.Input, SignalVideo, SourceUnsolicited)
	case UnsolicitedTieChange:
		r.applyTie(e.Output, e.Input, e.Signal, SourceUnsolicited)
	default:
		logger.Debug("Response with no matching command", zap.Any("event", ev))
	}
	return nil
}

func (r *runner) applyTie(output, input int, signal SignalClass, source ChangeSource) {
	var err error
	if source == SourceConfirmed {
		err = r.s.matrix.ApplyConfirmed(output, input, signal)
	} else {
		err = r.s.matrix.ApplyUnsolicited(output, input, signal)
	}
	if err != nil {
		r.s.logger.Warn("Ignoring tie outside matrix",
			zap.Int("output", output),
			zap.Int("input", input),
			zap.Error(err))
	}
}

func (r *runner) complete(value any, err error) {
	r.commandTimer.Stop()
	r.finish(r.active, value, err)
	r.active = nil
}

func (r *runner) finish(req *request, value any, err error) {
	req.finish(value, err)
	r.s.pending.Add(-1)
}

func (r *runner) timeoutActive() {
	if r.active == nil {
		return
	}
	cmd := r.active.cmd
	r.s.logger.Warn("Command timed out",
		zap.Stringer("command", cmd),
		zap.Duration("timeout", r.active.timeout))
	r.complete(nil, fmt.Errorf("%w: %s", ErrCommandTimeout, cmd))

	// A timed out status query is already part of a resync.
	if _, isStatus := cmd.(StatusCommand); isStatus {
		return
	}
	r.s.matrix.MarkStale()
	go r.s.resyncInBackground()
}

func (r *runner) becomeReady() {
	r.state = StateReady
	r.s.transition(r.l, StateReady)
	r.l.signalReady(nil)
}

// teardown leaves nothing half-open: every request fails with err, the
// transport is closed and the matrix is kept but marked stale.
func (r *runner) teardown(err error) {
	r.commandTimer.Stop()
	r.loginTimer.Stop()

	if r.active != nil {
		r.finish(r.active, nil, err)
		r.active = nil
	}
	for _, req := range r.queue {
		r.finish(req, nil, err)
	}
	r.queue = nil

	r.t.Close()
	r.s.matrix.MarkStale()

	r.l.err = err
	r.s.logger.Info("Session ended", zap.Error(err))
	r.s.transition(r.l, StateDisconnected)
	r.l.signalReady(err)
	close(r.l.finished)
}
