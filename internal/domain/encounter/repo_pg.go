package encounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinote/clinote/internal/platform/db"
	"github.com/clinote/clinote/internal/platform/phi"
)

var dialect = goqu.Dialect("postgres")

type repoPG struct {
	pool      *pgxpool.Pool
	encryptor phi.FieldEncryptor
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// NewRepoWithEncryption stores transcripts sealed with enc.
func NewRepoWithEncryption(pool *pgxpool.Pool, enc phi.FieldEncryptor) Repository {
	return &repoPG{pool: pool, encryptor: enc}
}

var encColumns = []interface{}{
	"id", "user_id", "patient_name", "patient_id", "visit_type", "encounter_date",
	"transcript", "record", "status", "signed_by", "signed_at", "exported_at",
	"version", "created_at", "updated_at", "deleted_at",
}

const encCols = `id, user_id, patient_name, patient_id, visit_type, encounter_date,
	transcript, record, status, signed_by, signed_at, exported_at,
	version, created_at, updated_at, deleted_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	transcript, err := r.encryptField(enc.Transcript)
	if err != nil {
		return err
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO encounters (
			id, user_id, patient_name, patient_id, visit_type, encounter_date,
			transcript, record, status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		enc.ID, enc.UserID, enc.PatientName, enc.PatientID, string(enc.VisitType), enc.EncounterDate,
		transcript, recordArg(enc.Record), string(enc.Status), enc.Version, enc.CreatedAt, enc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+encCols+` FROM encounters WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	return r.scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+encCols+` FROM encounters WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter, expectedVersion int) error {
	transcript, err := r.encryptField(enc.Transcript)
	if err != nil {
		return err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE encounters SET
			patient_name=$3, patient_id=$4, visit_type=$5, encounter_date=$6,
			transcript=$7, record=$8, status=$9, signed_by=$10, signed_at=$11,
			exported_at=$12, version=$13, updated_at=$14
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL`,
		enc.ID, expectedVersion,
		enc.PatientName, enc.PatientID, string(enc.VisitType), enc.EncounterDate,
		transcript, recordArg(enc.Record), string(enc.Status), enc.SignedBy, enc.SignedAt,
		enc.ExportedAt, enc.Version, enc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update encounter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID, expectedVersion int, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE encounters SET deleted_at = $3, updated_at = $3, version = version + 1
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL`,
		id, expectedVersion, at,
	)
	if err != nil {
		return fmt.Errorf("delete encounter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func ownerWhere(ownerID uuid.UUID, filter ListFilter) []exp.Expression {
	where := []exp.Expression{
		goqu.C("user_id").Eq(ownerID.String()),
		goqu.C("deleted_at").IsNull(),
	}
	if filter.Status != "" {
		where = append(where, goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.PatientID != "" {
		where = append(where, goqu.C("patient_id").Eq(filter.PatientID))
	}
	return where
}

func listByOwnerQueries(ownerID uuid.UUID, filter ListFilter, limit, offset int) (countSQL string, countArgs []interface{}, listSQL string, listArgs []interface{}, err error) {
	where := ownerWhere(ownerID, filter)

	countSQL, countArgs, err = dialect.From("encounters").
		Select(goqu.COUNT("*")).
		Where(where...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, "", nil, err
	}

	listSQL, listArgs, err = dialect.From("encounters").
		Select(encColumns...).
		Where(where...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		Prepared(true).
		ToSQL()
	return countSQL, countArgs, listSQL, listArgs, err
}

// ListByOwner returns one page of the owner's encounters, newest first, and
// the total number matching filter.
func (r *repoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, filter ListFilter, limit, offset int) ([]*Encounter, int, error) {
	countSQL, countArgs, listSQL, listArgs, err := listByOwnerQueries(ownerID, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("build encounter list query: %w", err)
	}

	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := q.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	var items []*Encounter
	for rows.Next() {
		enc, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, enc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate encounters: %w", err)
	}
	return items, total, nil
}

func recordArg(p Payload) []byte {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}

// -- PHI encryption helpers --

func (r *repoPG) encryptField(value *string) (*string, error) {
	if r.encryptor == nil || value == nil || *value == "" {
		return value, nil
	}
	sealed, err := r.encryptor.Encrypt(*value)
	if err != nil {
		return nil, fmt.Errorf("encrypting transcript: %w", err)
	}
	return &sealed, nil
}

func (r *repoPG) decryptField(value *string) (*string, error) {
	if r.encryptor == nil || value == nil || *value == "" {
		return value, nil
	}
	plain, err := r.encryptor.Decrypt(*value)
	if err != nil {
		return nil, fmt.Errorf("decrypting transcript: %w", err)
	}
	return &plain, nil
}

func (r *repoPG) scan(row pgx.Row) (*Encounter, error) {
	enc, err := scanEnc(row)
	if err != nil {
		return nil, err
	}
	if enc.Transcript, err = r.decryptField(enc.Transcript); err != nil {
		return nil, err
	}
	return enc, nil
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var (
		e                 Encounter
		visitType, status string
		record            []byte
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.PatientName, &e.PatientID, &visitType, &e.EncounterDate,
		&e.Transcript, &record, &status, &e.SignedBy, &e.SignedAt, &e.ExportedAt,
		&e.Version, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan encounter: %w", err)
	}
	e.VisitType = VisitType(visitType)
	e.Status = Status(status)
	if record != nil {
		e.Record = Payload(record)
	}
	return &e, nil
}
