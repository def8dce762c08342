package encounter

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinote/clinote/internal/domain/auditlog"
)

// memStore is an in-memory Repository, audit repository and Transactor.
// Transactions are serialized and roll back to a snapshot on error.
type memStore struct {
	txMu sync.Mutex

	mu         sync.Mutex
	encounters map[uuid.UUID]*Encounter
	entries    []*auditlog.Entry
	failAudit  bool
}

type inTxKey struct{}

var errAuditDown = errors.New("audit store unavailable")

func newMemStore() *memStore {
	return &memStore{encounters: make(map[uuid.UUID]*Encounter)}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	encSnap := make(map[uuid.UUID]*Encounter, len(m.encounters))
	for id, e := range m.encounters {
		encSnap[id] = e.Clone()
	}
	entrySnap := append([]*auditlog.Entry(nil), m.entries...)
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.encounters = encSnap
		m.entries = entrySnap
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Create(_ context.Context, enc *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encounters[enc.ID] = enc.Clone()
	return nil
}

func (m *memStore) get(id uuid.UUID) (*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.encounters[id]
	if !ok || e.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	return m.get(id)
}

func (m *memStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	if ctx.Value(inTxKey{}) == nil {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	return m.get(id)
}

func (m *memStore) Update(_ context.Context, enc *Encounter, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.encounters[enc.ID]
	if !ok || cur.DeletedAt != nil || cur.Version != expectedVersion {
		return ErrConflict
	}
	m.encounters[enc.ID] = enc.Clone()
	return nil
}

func (m *memStore) SoftDelete(_ context.Context, id uuid.UUID, expectedVersion int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.encounters[id]
	if !ok || cur.DeletedAt != nil || cur.Version != expectedVersion {
		return ErrConflict
	}
	cur.DeletedAt = &at
	cur.UpdatedAt = at
	cur.Version++
	return nil
}

func (m *memStore) ListByOwner(_ context.Context, ownerID uuid.UUID, filter ListFilter, limit, offset int) ([]*Encounter, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Encounter
	for _, e := range m.encounters {
		if e.UserID != ownerID || e.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.PatientID != "" && e.PatientID != filter.PatientID {
			continue
		}
		matched = append(matched, e.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return bytes.Compare(matched[i].ID[:], matched[j].ID[:]) > 0
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *memStore) Append(_ context.Context, e *auditlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAudit {
		return errAuditDown
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStore) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*auditlog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*auditlog.Entry
	for _, e := range m.entries {
		if e.EncounterID == encounterID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) setFailAudit(v bool) {
	m.mu.Lock()
	m.failAudit = v
	m.mu.Unlock()
}

func (m *memStore) entriesFor(id uuid.UUID) []*auditlog.Entry {
	out, _ := m.ListByEncounter(context.Background(), id)
	return out
}

func (m *memStore) raw(id uuid.UUID) *Encounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.encounters[id]; ok {
		return e.Clone()
	}
	return nil
}

// stepClock advances one second per call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}
