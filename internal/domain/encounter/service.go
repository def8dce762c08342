package encounter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinote/clinote/internal/config"
	"github.com/clinote/clinote/internal/domain/auditlog"
	"github.com/clinote/clinote/internal/platform/telemetry"
)

// Transactor runs fn inside one database transaction carried by its context.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service enforces the encounter lifecycle. Each accepted mutation is written
// together with exactly one audit entry in a single transaction.
type Service struct {
	repo     Repository
	audit    auditlog.Repository
	tx       Transactor
	logger   zerolog.Logger
	viewMode string
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(repo Repository, audit auditlog.Repository, tx Transactor, logger zerolog.Logger, viewMode string) *Service {
	if viewMode == "" {
		viewMode = config.ViewAuditStrict
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		tx:       tx,
		logger:   logger.With().Str("component", "encounter").Logger(),
		viewMode: viewMode,
		tracer:   telemetry.Tracer(),
		now:      time.Now,
	}
}

// CreateInput carries a new encounter. RequestedStatus is accepted for
// compatibility with older clients and otherwise ignored.
type CreateInput struct {
	Details
	Transcript      *string
	Record          Payload
	RequestedStatus Status
}

// UpdateInput lists the fields to replace; nil means unchanged. A non-nil
// Record pointing at an empty Payload clears the record.
type UpdateInput struct {
	PatientName   *string
	PatientID     *string
	VisitType     *VisitType
	EncounterDate *time.Time
	Transcript    *string
	Record        *Payload
	Status        *Status
}

func (s *Service) startSpan(ctx context.Context, op string, id uuid.UUID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("encounter.operation", op)}
	if id != uuid.Nil {
		attrs = append(attrs, attribute.String("encounter.id", id.String()))
	}
	return s.tracer.Start(ctx, "encounter."+op, trace.WithAttributes(attrs...))
}

func (s *Service) Create(ctx context.Context, actor auditlog.Actor, in CreateInput) (_ *Encounter, err error) {
	ctx, span := s.startSpan(ctx, "create", uuid.Nil)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	in.Details.normalize()
	if err := in.Details.validate(); err != nil {
		return nil, err
	}
	if in.RequestedStatus != "" && in.RequestedStatus != StatusDraft {
		s.logger.Debug().
			Str("requested_status", string(in.RequestedStatus)).
			Msg("ignoring requested initial status; encounters start as DRAFT")
	}

	now := s.now().UTC()
	enc := &Encounter{
		ID:            uuid.New(),
		UserID:        actor.UserID,
		PatientName:   in.PatientName,
		PatientID:     in.PatientID,
		VisitType:     in.VisitType,
		EncounterDate: in.EncounterDate,
		Transcript:    in.Transcript,
		Record:        in.Record,
		Status:        StatusDraft,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, enc); err != nil {
			return err
		}
		return s.appendAudit(ctx, actor, enc.ID, auditlog.ActionCreated, nil, now)
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// Get returns the encounter if actor owns it and records a view. In strict
// mode a failed view entry fails the read; in best-effort mode it is logged.
func (s *Service) Get(ctx context.Context, actor auditlog.Actor, id uuid.UUID) (_ *Encounter, err error) {
	ctx, span := s.startSpan(ctx, "get", id)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	enc, err := s.loadOwned(ctx, id, actor.UserID, false)
	if err != nil {
		return nil, err
	}

	if err := s.appendAudit(ctx, actor, enc.ID, auditlog.ActionViewed, nil, s.now().UTC()); err != nil {
		if s.viewMode != config.ViewAuditBestEffort {
			return nil, err
		}
		s.logger.Warn().Err(err).
			Str("encounter_id", enc.ID.String()).
			Str("request_id", actor.RequestID).
			Msg("view audit entry dropped")
	}
	return enc, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID, filter ListFilter, limit, offset int) (_ []*Encounter, _ int, err error) {
	ctx, span := s.startSpan(ctx, "list", uuid.Nil)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &ValidationError{Field: "status", Message: fmt.Sprintf("invalid status filter: %q", string(filter.Status))}
	}
	items, total, err := s.repo.ListByOwner(ctx, ownerID, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Encounter{}
	}
	return items, total, nil
}

func (s *Service) Update(ctx context.Context, actor auditlog.Actor, id uuid.UUID, in UpdateInput) (_ *Encounter, err error) {
	ctx, span := s.startSpan(ctx, "update", id)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	return s.mutate(ctx, actor, id, func(enc *Encounter, now time.Time) (auditlog.Action, interface{}, error) {
		if err := CheckMutable(enc.Status); err != nil {
			return "", nil, err
		}
		changed, err := applyUpdate(enc, in)
		if err != nil {
			return "", nil, err
		}
		return auditlog.ActionUpdated, changed, nil
	})
}

// applyUpdate copies the supplied fields onto enc and returns their names,
// sorted.
func applyUpdate(enc *Encounter, in UpdateInput) ([]string, error) {
	if in.Status != nil && *in.Status != enc.Status {
		return nil, &ValidationError{Field: "status", Message: "status cannot be changed by update; use sign or export"}
	}

	var changed []string
	if in.PatientName != nil {
		v := strings.TrimSpace(*in.PatientName)
		if err := validatePatientName(v); err != nil {
			return nil, err
		}
		enc.PatientName = v
		changed = append(changed, "patientName")
	}
	if in.PatientID != nil {
		v := strings.TrimSpace(*in.PatientID)
		if err := validatePatientID(v); err != nil {
			return nil, err
		}
		enc.PatientID = v
		changed = append(changed, "patientId")
	}
	if in.VisitType != nil {
		if !in.VisitType.Valid() {
			return nil, invalidVisitType(*in.VisitType)
		}
		enc.VisitType = *in.VisitType
		changed = append(changed, "visitType")
	}
	if in.EncounterDate != nil {
		if in.EncounterDate.IsZero() {
			return nil, &ValidationError{Field: "date", Message: "date is required"}
		}
		enc.EncounterDate = in.EncounterDate.UTC()
		changed = append(changed, "date")
	}
	if in.Transcript != nil {
		v := *in.Transcript
		enc.Transcript = &v
		changed = append(changed, "transcript")
	}
	if in.Record != nil {
		if len(*in.Record) == 0 {
			enc.Record = nil
		} else {
			enc.Record = append(Payload(nil), (*in.Record)...)
		}
		changed = append(changed, "record")
	}

	if len(changed) == 0 {
		return nil, &ValidationError{Message: "no fields to update"}
	}
	sort.Strings(changed)
	return changed, nil
}

// Sign moves a DRAFT encounter to SIGNED and stamps the signer.
func (s *Service) Sign(ctx context.Context, actor auditlog.Actor, id uuid.UUID, signer string) (_ *Encounter, err error) {
	ctx, span := s.startSpan(ctx, "sign", id)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	signer = strings.TrimSpace(signer)
	if signer == "" {
		return nil, &ValidationError{Field: "signedBy", Message: "signedBy is required"}
	}
	if len(signer) > maxSignerLen {
		return nil, &ValidationError{Field: "signedBy", Message: fmt.Sprintf("signedBy must be at most %d characters", maxSignerLen)}
	}

	return s.mutate(ctx, actor, id, func(enc *Encounter, now time.Time) (auditlog.Action, interface{}, error) {
		if err := checkTransition(enc.Status, StatusSigned); err != nil {
			return "", nil, err
		}
		enc.Status = StatusSigned
		enc.SignedBy = &signer
		enc.SignedAt = &now
		return auditlog.ActionSigned, map[string]string{"signedBy": signer}, nil
	})
}

// Export moves a SIGNED encounter to EXPORTED and returns the export document.
func (s *Service) Export(ctx context.Context, actor auditlog.Actor, id uuid.UUID) (_ *ExportDocument, err error) {
	ctx, span := s.startSpan(ctx, "export", id)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	enc, err := s.mutate(ctx, actor, id, func(enc *Encounter, now time.Time) (auditlog.Action, interface{}, error) {
		if err := checkTransition(enc.Status, StatusExported); err != nil {
			return "", nil, err
		}
		enc.Status = StatusExported
		enc.ExportedAt = &now
		return auditlog.ActionExported, map[string]string{"format": ExportFormat}, nil
	})
	if err != nil {
		return nil, err
	}
	return &ExportDocument{
		Format:     ExportFormat,
		ExportedAt: *enc.ExportedAt,
		Encounter:  enc,
	}, nil
}

// Delete soft-deletes a DRAFT encounter.
func (s *Service) Delete(ctx context.Context, actor auditlog.Actor, id uuid.UUID) (err error) {
	ctx, span := s.startSpan(ctx, "delete", id)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		enc, err := s.loadOwned(ctx, id, actor.UserID, true)
		if err != nil {
			return err
		}
		if err := CheckMutable(enc.Status); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.repo.SoftDelete(ctx, enc.ID, enc.Version, now); err != nil {
			return err
		}
		return s.appendAudit(ctx, actor, enc.ID, auditlog.ActionDeleted, nil, now)
	})
}

// AuditTrail returns the entries for an encounter the caller owns, oldest
// first. Reading the trail is not itself audited.
func (s *Service) AuditTrail(ctx context.Context, callerID, id uuid.UUID) (_ []*auditlog.Entry, err error) {
	ctx, span := s.startSpan(ctx, "audit_trail", id)
	defer func() { telemetry.RecordError(span, err); span.End() }()

	if _, err := s.loadOwned(ctx, id, callerID, false); err != nil {
		return nil, err
	}
	entries, err := s.audit.ListByEncounter(ctx, id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*auditlog.Entry{}
	}
	return entries, nil
}

type mutation func(enc *Encounter, now time.Time) (auditlog.Action, interface{}, error)

// mutate locks the row, applies fn, writes the new version and appends the
// audit entry, all in one transaction.
func (s *Service) mutate(ctx context.Context, actor auditlog.Actor, id uuid.UUID, fn mutation) (*Encounter, error) {
	var out *Encounter
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		enc, err := s.loadOwned(ctx, id, actor.UserID, true)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		expected := enc.Version
		action, changes, err := fn(enc, now)
		if err != nil {
			return err
		}
		enc.Version = expected + 1
		enc.UpdatedAt = now

		if err := s.repo.Update(ctx, enc, expected); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, actor, enc.ID, action, changes, now); err != nil {
			return err
		}
		out = enc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) loadOwned(ctx context.Context, id, callerID uuid.UUID, lock bool) (*Encounter, error) {
	var (
		enc *Encounter
		err error
	)
	if lock {
		enc, err = s.repo.GetForUpdate(ctx, id)
	} else {
		enc, err = s.repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if enc.UserID != callerID {
		return nil, ErrForbidden
	}
	return enc, nil
}

func (s *Service) appendAudit(ctx context.Context, actor auditlog.Actor, encounterID uuid.UUID, action auditlog.Action, changes interface{}, at time.Time) error {
	entry, err := actor.NewEntry(encounterID, action, changes, at)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuditWrite, err)
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrAuditWrite, err)
	}
	return nil
}
