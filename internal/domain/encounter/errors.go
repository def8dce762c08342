package encounter

import (
	"github.com/clinote/clinote/internal/platform/apierror"
)

var (
	ErrNotFound          = apierror.New(apierror.CodeNotFound, "encounter not found")
	ErrForbidden         = apierror.New(apierror.CodeForbidden, "not authorized to access this encounter")
	ErrRecordLocked      = apierror.New(apierror.CodeRecordLocked, "encounter is locked and can no longer be modified")
	ErrInvalidTransition = apierror.New(apierror.CodeInvalidTransition, "encounter cannot make this status transition")
	ErrAuditWrite        = apierror.New(apierror.CodeAuditWrite, "audit log could not be written")
	ErrConflict          = apierror.New(apierror.CodeConflict, "encounter was modified concurrently")
)

// ValidationError reports a rejected input. Message is shown to the client.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string     { return e.Message }
func (e *ValidationError) ErrorCode() string { return apierror.CodeValidation }
