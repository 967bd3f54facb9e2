package core

import (
	"context"
	"errors"

	"LevFarm/internal/event"

	"github.com/rs/zerolog"
)

// ErrStopped is returned once the runner's loop has exited.
var ErrStopped = errors.New("executor stopped")

type request struct {
	cmd   event.Command
	fn    func(*Executor)
	reply chan response
}

type response struct {
	env *event.OutcomeEnvelope
	err error
}

// Runner owns the executor on a single goroutine. Commands from every
// ingress and every read of strategy state go through its inbox, so the
// strategy is never touched concurrently.
type Runner struct {
	exec   *Executor
	inbox  chan request
	done   chan struct{}
	logger zerolog.Logger
}

func NewRunner(exec *Executor, buffer int, logger zerolog.Logger) *Runner {
	if buffer <= 0 {
		buffer = 1
	}
	return &Runner{
		exec:   exec,
		inbox:  make(chan request, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes the inbox until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.inbox:
			r.handle(req)
		}
	}
}

func (r *Runner) handle(req request) {
	if req.fn != nil {
		req.fn(r.exec)
		if req.reply != nil {
			req.reply <- response{}
		}
		return
	}
	env, err := r.exec.ProcessCommand(req.cmd)
	if req.reply != nil {
		req.reply <- response{env: env, err: err}
		return
	}
	if err != nil {
		r.logger.Warn().Err(err).
			Str("command_type", req.cmd.CommandType().String()).
			Str("idempotency_key", req.cmd.IdempotencyKey()).
			Msg("command not applied")
	}
}

func (r *Runner) send(ctx context.Context, req request) error {
	select {
	case r.inbox <- req:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit processes cmd and waits for its outcome.
func (r *Runner) Submit(ctx context.Context, cmd event.Command) (*event.OutcomeEnvelope, error) {
	reply := make(chan response, 1)
	if err := r.send(ctx, request{cmd: cmd, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case resp := <-reply:
		return resp.env, resp.err
	case <-r.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue hands cmd to the executor without waiting for the outcome.
func (r *Runner) Enqueue(ctx context.Context, cmd event.Command) error {
	return r.send(ctx, request{cmd: cmd})
}

// Inspect runs fn on the executor goroutine and waits for it.
func (r *Runner) Inspect(ctx context.Context, fn func(*Executor)) error {
	reply := make(chan response, 1)
	if err := r.send(ctx, request{fn: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
