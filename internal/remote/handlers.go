package remote

import (
	"context"
	"fmt"

	"fieldsync/internal/models"
	"fieldsync/internal/worker"
)

type updateTaskStatusArgs struct {
	TaskID   string               `json:"taskId"`
	Status   string               `json:"status"`
	Notes    string               `json:"notes,omitempty"`
	Location *models.TaskLocation `json:"location,omitempty"`
}

// Handlers binds every action kind to its backend mutation.
func Handlers(m Mutator) worker.Registry {
	return worker.Registry{
		models.KindUpdateStatus: func(ctx context.Context, p models.Payload) error {
			v, ok := p.(models.UpdateStatusPayload)
			if !ok {
				return mismatch(p)
			}
			_, err := m.Mutation(ctx, PathUpdateTaskStatus, updateTaskStatusArgs{
				TaskID:   v.TaskID,
				Status:   v.Status,
				Notes:    v.Notes,
				Location: v.Location,
			})
			return err
		},
		models.KindStart: func(ctx context.Context, p models.Payload) error {
			v, ok := p.(models.StartTaskPayload)
			if !ok {
				return mismatch(p)
			}
			_, err := m.Mutation(ctx, PathUpdateTaskStatus, updateTaskStatusArgs{
				TaskID: v.TaskID,
				Status: models.TaskStatusInProgress,
			})
			return err
		},
		models.KindComplete: func(ctx context.Context, p models.Payload) error {
			v, ok := p.(models.CompleteTaskPayload)
			if !ok {
				return mismatch(p)
			}
			_, err := m.Mutation(ctx, PathUpdateTaskStatus, updateTaskStatusArgs{
				TaskID:   v.TaskID,
				Status:   models.TaskStatusCompleted,
				Notes:    v.Notes,
				Location: v.Location,
			})
			return err
		},
		models.KindTrackLocation: func(ctx context.Context, p models.Payload) error {
			v, ok := p.(models.TrackLocationPayload)
			if !ok {
				return mismatch(p)
			}
			_, err := m.Mutation(ctx, PathTrackLocation, v)
			return err
		},
	}
}

func mismatch(p models.Payload) error {
	return fmt.Errorf("%w: unexpected payload type %T for kind %s", models.ErrInvalidPayload, p, p.Kind())
}
