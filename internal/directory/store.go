package directory

import (
	"context"
	"errors"

	"charging-kiosk/internal/domain"
)

// ErrUnavailable indicates the backing store could not be reached. Callers
// must treat it distinctly from a card simply not being registered.
var ErrUnavailable = errors.New("directory unavailable")

// Store is the durable record of users. Reads return a full snapshot; writes
// update a single balance by card id. Implementations may be slow or
// temporarily unreachable.
type Store interface {
	FetchAll(ctx context.Context) ([]domain.User, error)
	WriteBalance(ctx context.Context, cardID string, balance float64) error
}

// Provisioner is implemented by stores that can register new users, used to
// auto-provision placeholder accounts for unknown cards.
type Provisioner interface {
	Provision(ctx context.Context, user domain.User) error
}
