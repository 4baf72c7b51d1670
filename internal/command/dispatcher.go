package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/satlink/internal/link"
	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher validates frames against the registry and runs handlers.
type Dispatcher struct {
	registry *Registry
	log      zerolog.Logger
}

func NewDispatcher(registry *Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Prepare resolves f and converts its arguments. On error no handler has
// run and the frame should be dropped.
func (d *Dispatcher) Prepare(f frame.Frame) (Call, Descriptor, error) {
	desc, ok := d.registry.Resolve(f.ID)
	if !ok {
		observability.RecordDispatch(fmt.Sprintf("cmd.%d", f.ID), "unknown")
		return Call{}, Descriptor{}, fmt.Errorf("%w: %d", ErrUnknownCommand, f.ID)
	}

	args, err := convertArgs(desc, f.Args)
	if err != nil {
		observability.RecordDispatch(desc.Name, "mismatch")
		return Call{}, desc, err
	}

	taskID := uuid.NewString()
	call := Call{
		ID:     desc.ID,
		Name:   desc.Name,
		Policy: desc.Policy,
		TaskID: taskID,
		Args:   args,
		Log: d.log.With().
			Int("command", desc.ID).
			Str("name", desc.Name).
			Str("task", taskID).
			Logger(),
	}
	return call, desc, nil
}

func convertArgs(desc Descriptor, values []frame.Value) ([]any, error) {
	if len(values) != desc.Arity() {
		return nil, fmt.Errorf("%w: command %d (%s) takes %d args, frame has %d",
			ErrArgumentMismatch, desc.ID, desc.Name, desc.Arity(), len(values))
	}
	args := make([]any, 0, len(values))
	for i, v := range values {
		if v.Tag != desc.ArgTypes[i] {
			return nil, fmt.Errorf("%w: command %d arg %d is %s, want %s",
				ErrArgumentMismatch, desc.ID, i, v.Tag, desc.ArgTypes[i])
		}
		converted, err := v.Convert()
		if err != nil {
			return nil, fmt.Errorf("%w: command %d arg %d: %w", ErrArgumentMismatch, desc.ID, i, err)
		}
		args = append(args, converted)
	}
	return args, nil
}

// Invoke runs the handler for a prepared call. Handler failures and panics
// come back as *HandlerError.
func (d *Dispatcher) Invoke(ctx context.Context, desc Descriptor, call Call) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{ID: desc.ID, Name: desc.Name, Err: errPanic(r)}
		}
		observability.RecordHandler(desc.Name, desc.Policy.String(), time.Since(start), err == nil)
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		observability.RecordDispatch(desc.Name, outcome)
	}()

	call.Log.Debug().Strs("args", call.Strings()).Str("policy", desc.Policy.String()).Msg("command start")
	res, err = desc.Handler.Execute(ctx, call)
	if err != nil {
		var ext *ExternalError
		return Result{}, &HandlerError{
			ID:       desc.ID,
			Name:     desc.Name,
			External: errors.As(err, &ext),
			Err:      err,
		}
	}
	call.Log.Debug().Str("status", res.Status).Dur("elapsed", time.Since(start)).Msg("command done")
	return res, nil
}

// Dispatch prepares f and runs its handler synchronously with conn.
func (d *Dispatcher) Dispatch(ctx context.Context, f frame.Frame, conn *link.Conn) (Result, error) {
	call, desc, err := d.Prepare(f)
	if err != nil {
		return Result{}, err
	}
	call.Link = conn
	return d.Invoke(ctx, desc, call)
}
