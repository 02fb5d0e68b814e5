package db

import (
	"context"
	"errors"
	"strings"

	"medintake-chatbot/pkg"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicatePatientID is returned when a new record reuses a patient id
	// already held by another session.
	ErrDuplicatePatientID = errors.New("patient id already taken")
)

// Store persists one patient record and one transcript per session.
// Implementations must be safe for concurrent use; writes for the same
// session must never interleave into a mixed record.
type Store interface {
	// UpsertPatient inserts the record unless the session already has one,
	// and returns whichever record is stored for the session afterwards.
	UpsertPatient(ctx context.Context, rec *pkg.PatientRecord) (*pkg.PatientRecord, error)
	// UpsertTranscript replaces the session's transcript wholesale, or
	// inserts it if absent.
	UpsertTranscript(ctx context.Context, t *pkg.SessionTranscript) error
	// PatientByID matches the id exactly.
	PatientByID(ctx context.Context, patientID string) (*pkg.PatientRecord, error)
	// PatientBySession returns the record created for a session.
	PatientBySession(ctx context.Context, sessionID string) (*pkg.PatientRecord, error)
	// GetTranscript returns the last saved transcript of a session.
	GetTranscript(ctx context.Context, sessionID string) (*pkg.SessionTranscript, error)
	Close() error
}

// FindPatient looks a patient up by a typed-in id, trying the literal value
// first and then its trimmed, upper-cased and lower-cased forms.
func FindPatient(ctx context.Context, s Store, candidate string) (*pkg.PatientRecord, error) {
	trimmed := strings.TrimSpace(candidate)
	tried := make(map[string]bool, 4)
	for _, id := range []string{candidate, trimmed, strings.ToUpper(trimmed), strings.ToLower(trimmed)} {
		if id == "" || tried[id] {
			continue
		}
		tried[id] = true
		rec, err := s.PatientByID(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func clonePatient(rec *pkg.PatientRecord) *pkg.PatientRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	return &c
}

func cloneTranscript(t *pkg.SessionTranscript) *pkg.SessionTranscript {
	c := *t
	c.Turns = append([]pkg.ChatTurn(nil), t.Turns...)
	c.PatientData = clonePatient(t.PatientData)
	return &c
}
