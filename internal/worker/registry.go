package worker

import (
	"context"
	"fmt"

	"fieldsync/internal/models"
)

// Handler performs the remote operation for one payload kind.
type Handler func(ctx context.Context, p models.Payload) error

// Registry maps every action kind to its handler. It is fixed at startup.
type Registry map[models.Kind]Handler

// Dispatch routes p to the handler registered for its kind.
func (r Registry) Dispatch(ctx context.Context, p models.Payload) error {
	h, ok := r[p.Kind()]
	if !ok || h == nil {
		return fmt.Errorf("%w: %q", models.ErrUnknownKind, p.Kind())
	}
	return h(ctx, p)
}
