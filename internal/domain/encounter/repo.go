package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists encounters. Soft-deleted rows are reported as
// ErrNotFound by every read. Writes join the transaction carried by ctx.
type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// Update replaces the mutable columns of enc when the stored version
	// equals expectedVersion, otherwise it returns ErrConflict.
	Update(ctx context.Context, enc *Encounter, expectedVersion int) error
	SoftDelete(ctx context.Context, id uuid.UUID, expectedVersion int, at time.Time) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, filter ListFilter, limit, offset int) ([]*Encounter, int, error)
}
