package encounter

// transitions lists the status changes sign and export may make.
var transitions = map[Status]Status{
	StatusDraft:  StatusSigned,
	StatusSigned: StatusExported,
}

// CanTransition reports whether an encounter in from may move to to.
func CanTransition(from, to Status) bool {
	next, ok := transitions[from]
	return ok && next == to
}

// CheckMutable returns ErrRecordLocked unless content edits and deletion are
// still allowed in status s.
func CheckMutable(s Status) error {
	if s != StatusDraft {
		return ErrRecordLocked
	}
	return nil
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}
