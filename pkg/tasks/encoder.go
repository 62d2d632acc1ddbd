package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/clyso/crr/pkg/dom"
)

type TaskPayload interface {
	AttemptPayload
}

// encoder contains metadata for task payload.
type encoder[T TaskPayload] struct {
	// generates unique task ID based on payload. Used for deduplication.
	// If nil, no task ID is set and no deduplication is performed.
	taskID func(p T) string
	// calculates queue name based on payload.
	queue func(p T) string
	// Uniq
	taskType string
	// extra asynq options
	opts []asynq.Option
}

var attempt = encoder[AttemptPayload]{
	taskID: func(p AttemptPayload) string {
		return toTaskID(p.EntryID.String(), p.LeaseToken)
	},
	queue: func(p AttemptPayload) string {
		return QueueName(p.Destination)
	},
	taskType: TypeAttempt,
	// retries are journal transitions
	opts: []asynq.Option{asynq.MaxRetry(0)},
}

func (e encoder[T]) Encode(_ context.Context, payload T) (*asynq.Task, error) {
	if err := any(payload).(interface{ validate() error }).validate(); err != nil {
		return nil, err
	}
	bytes, err := json.Marshal(&payload)
	if err != nil {
		return nil, err
	}
	queue := e.queue(payload)
	optionList := append([]asynq.Option{asynq.Queue(queue)}, e.opts...)
	if e.taskID != nil {
		id := e.taskID(payload)
		if id == "" {
			return nil, fmt.Errorf("%w: task ID generator returned empty task ID", dom.ErrInternal)
		}
		optionList = append(optionList, asynq.TaskID(id))
	}
	return asynq.NewTask(e.taskType, bytes, optionList...), nil
}

func (e encoder[T]) Enqueue(ctx context.Context, taskClient *asynq.Client, payload T) error {
	task, err := e.Encode(ctx, payload)
	if err != nil {
		return err
	}
	_, err = taskClient.EnqueueContext(ctx, task)
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

func NewAttemptTask(ctx context.Context, payload AttemptPayload) (*asynq.Task, error) {
	return attempt.Encode(ctx, payload)
}

func DecodeAttempt(task *asynq.Task) (AttemptPayload, error) {
	var p AttemptPayload
	if task.Type() != TypeAttempt {
		return p, fmt.Errorf("%w: unexpected task type %q", dom.ErrInvalidArg, task.Type())
	}
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("%w: unable to decode attempt payload: %v", dom.ErrInvalidArg, err)
	}
	if err := p.validate(); err != nil {
		return p, err
	}
	return p, nil
}

func enqueueAny(ctx context.Context, taskClient *asynq.Client, payload any) error {
	switch p := payload.(type) {
	case *AttemptPayload:
		return attempt.Enqueue(ctx, taskClient, *p)
	case AttemptPayload:
		return attempt.Enqueue(ctx, taskClient, p)
	default:
		return fmt.Errorf("%w: unknown task payload type %T", dom.ErrInvalidArg, payload)
	}
}
