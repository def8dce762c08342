package auditlog

import (
	"context"

	"github.com/google/uuid"
)

// Repository appends and reads audit entries. There is deliberately no
// update or delete.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Entry, error)
}
