package auditlog

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinote/clinote/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// Append joins the transaction carried by ctx, if any.
func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_logs (id, encounter_id, user_id, action, changes, ip_address, user_agent, request_id, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.EncounterID, e.UserID, string(e.Action), nullableJSON(e.Changes),
		nullableString(e.IPAddress), nullableString(e.UserAgent), nullableString(e.RequestID), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func listByEncounterQuery(encounterID uuid.UUID) (string, []interface{}, error) {
	return dialect.From("audit_logs").
		Select("id", "encounter_id", "user_id", "action", "changes", "ip_address", "user_agent", "request_id", "timestamp").
		Where(goqu.C("encounter_id").Eq(encounterID.String())).
		Order(goqu.C("timestamp").Asc(), goqu.C("id").Asc()).
		Prepared(true).
		ToSQL()
}

// ListByEncounter returns the trail oldest first.
func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Entry, error) {
	query, args, err := listByEncounterQuery(encounterID)
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                    Entry
		action               string
		changes              []byte
		ip, agent, requestID *string
	)
	if err := row.Scan(&e.ID, &e.EncounterID, &e.UserID, &action, &changes, &ip, &agent, &requestID, &e.Timestamp); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Action = Action(action)
	if changes != nil {
		e.Changes = changes
	}
	e.IPAddress = deref(ip)
	e.UserAgent = deref(agent)
	e.RequestID = deref(requestID)
	return &e, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
