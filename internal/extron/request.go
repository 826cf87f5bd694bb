package extron

import (
	"context"
	"time"
)

type result struct {
	value any
	err   error
}

// request is one pending command. done is buffered so the session never
// blocks on a caller that gave up waiting.
type request struct {
	ctx     context.Context
	cmd     Command
	created time.Time
	timeout time.Duration
	done    chan result
}

func newRequest(ctx context.Context, cmd Command, timeout time.Duration) *request {
	return &request{
		ctx:     ctx,
		cmd:     cmd,
		created: time.Now(),
		timeout: timeout,
		done:    make(chan result, 1),
	}
}

func (r *request) finish(value any, err error) {
	r.done <- result{value: value, err: err}
}
