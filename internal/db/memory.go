package db

import (
	"context"
	"sync"
	"time"

	"medintake-chatbot/pkg"
)

// MemoryStore keeps everything in process memory.  Each session has its own
// lock, so writers for different sessions never wait on each other.
type MemoryStore struct {
	sessions sync.Map // session id -> *memorySession
	patients sync.Map // patient id -> *pkg.PatientRecord
}

type memorySession struct {
	mu         sync.Mutex
	patient    *pkg.PatientRecord
	transcript *pkg.SessionTranscript
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) session(id string) *memorySession {
	s, _ := m.sessions.LoadOrStore(id, &memorySession{})
	return s.(*memorySession)
}

func (m *MemoryStore) UpsertPatient(ctx context.Context, rec *pkg.PatientRecord) (*pkg.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.session(rec.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patient != nil {
		return clonePatient(s.patient), nil
	}
	stored := clonePatient(rec)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if _, taken := m.patients.LoadOrStore(stored.PatientID, stored); taken {
		return nil, ErrDuplicatePatientID
	}
	s.patient = stored
	return clonePatient(stored), nil
}

func (m *MemoryStore) UpsertTranscript(ctx context.Context, t *pkg.SessionTranscript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := cloneTranscript(t)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s := m.session(t.SessionID)
	s.mu.Lock()
	s.transcript = stored
	s.mu.Unlock()
	return nil
}

func (m *MemoryStore) PatientByID(ctx context.Context, patientID string) (*pkg.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := m.patients.Load(patientID)
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(rec.(*pkg.PatientRecord)), nil
}

func (m *MemoryStore) PatientBySession(ctx context.Context, sessionID string) (*pkg.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*memorySession)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patient == nil {
		return nil, ErrNotFound
	}
	return clonePatient(s.patient), nil
}

func (m *MemoryStore) GetTranscript(ctx context.Context, sessionID string) (*pkg.SessionTranscript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*memorySession)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcript == nil {
		return nil, ErrNotFound
	}
	return cloneTranscript(s.transcript), nil
}

func (m *MemoryStore) Close() error { return nil }
