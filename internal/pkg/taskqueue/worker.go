package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Handler executes one task type. The returned value is stored as the
// task result.
type Handler func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Worker polls the queue and dispatches tasks to registered handlers.
type Worker struct {
	svc      *Service
	logger   *zap.Logger
	handlers map[string]Handler
	poll     time.Duration
}

func NewWorker(svc *Service, logger *zap.Logger) *Worker {
	return &Worker{
		svc:      svc,
		logger:   logger.Named("TaskWorker"),
		handlers: map[string]Handler{},
		poll:     5 * time.Second,
	}
}

// Register binds a handler to a task type. Later registrations win.
func (w *Worker) Register(taskType string, h Handler) {
	w.handlers[taskType] = h
}

// Run consumes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.svc.Claim(ctx, w.poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("claim failed", zap.Error(err))
			time.Sleep(w.poll)
			continue
		}
		if task == nil {
			continue
		}
		w.dispatch(ctx, task)
	}
}

func (w *Worker) dispatch(ctx context.Context, task *Task) {
	handler, ok := w.handlers[task.Type]
	if !ok {
		w.logger.Warn("no handler for task", zap.String("type", task.Type), zap.String("id", task.ID))
		_ = w.svc.UpdateStatus(ctx, task.ID, TaskFailed, nil, fmt.Sprintf("no handler for %q", task.Type))
		return
	}

	result, err := handler(ctx, task.Payload)
	if err != nil {
		w.logger.Warn("task failed",
			zap.String("type", task.Type),
			zap.String("id", task.ID),
			zap.Error(err))
		_ = w.svc.UpdateStatus(ctx, task.ID, TaskFailed, nil, err.Error())
		return
	}
	_ = w.svc.UpdateStatus(ctx, task.ID, TaskCompleted, result, "")
	w.logger.Info("task completed", zap.String("type", task.Type), zap.String("id", task.ID))
}
