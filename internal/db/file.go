package db

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"medintake-chatbot/pkg"
)

// maxEncodedKey keeps file names well under the usual 255 byte limit.
const maxEncodedKey = 200

var fileKeyEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// FileStore keeps one JSON document per session plus one per patient under a
// base directory.  Ids are encoded into file names, so any non-empty id is
// accepted.  Documents are written to a temporary file and renamed
// into place, so readers never observe a half-written record.
type FileStore struct {
	sessionDir string
	patientDir string
	locks      sync.Map // session id -> *sync.Mutex
}

type fileSession struct {
	Patient    *pkg.PatientRecord     `json:"patient,omitempty"`
	Transcript *pkg.SessionTranscript `json:"transcript,omitempty"`
}

// NewFileStore creates the directory layout under basePath if needed.
func NewFileStore(basePath string) (*FileStore, error) {
	s := &FileStore{
		sessionDir: filepath.Join(basePath, "sessions"),
		patientDir: filepath.Join(basePath, "patients"),
	}
	for _, dir := range []string{s.sessionDir, s.patientDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *FileStore) lock(sessionID string) func() {
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// fileName maps an id onto a file name that cannot leave its directory.
// Short ids are base32 encoded, which keeps them reversible and distinct on
// case-insensitive file systems; long ones are hashed.  The base32 alphabet
// has no '.', so the two forms never collide.
func fileName(id string) (string, error) {
	if id == "" {
		return "", errors.New("empty id")
	}
	name := fileKeyEncoding.EncodeToString([]byte(id))
	if len(name) > maxEncodedKey {
		sum := sha256.Sum256([]byte(id))
		name = hex.EncodeToString(sum[:]) + ".sha256"
	}
	return name + ".json", nil
}

func (s *FileStore) sessionPath(sessionID string) (string, error) {
	name, err := fileName(sessionID)
	if err != nil {
		return "", fmt.Errorf("invalid session id: %w", err)
	}
	return filepath.Join(s.sessionDir, name), nil
}

func (s *FileStore) patientPath(patientID string) (string, error) {
	name, err := fileName(patientID)
	if err != nil {
		return "", fmt.Errorf("invalid patient id: %w", err)
	}
	return filepath.Join(s.patientDir, name), nil
}

func (s *FileStore) UpsertPatient(ctx context.Context, rec *pkg.PatientRecord) (*pkg.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.sessionPath(rec.SessionID)
	if err != nil {
		return nil, err
	}
	patientPath, err := s.patientPath(rec.PatientID)
	if err != nil {
		return nil, err
	}
	defer s.lock(rec.SessionID)()

	var doc fileSession
	if err := readJSON(path, &doc); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if doc.Patient != nil {
		return doc.Patient, nil
	}
	doc.Patient = clonePatient(rec)
	if doc.Patient.CreatedAt.IsZero() {
		doc.Patient.CreatedAt = time.Now().UTC()
	}
	if _, err := os.Stat(patientPath); err == nil {
		return nil, ErrDuplicatePatientID
	}
	if err := writeJSON(patientPath, doc.Patient); err != nil {
		return nil, err
	}
	if err := writeJSON(path, &doc); err != nil {
		return nil, err
	}
	return clonePatient(doc.Patient), nil
}

func (s *FileStore) UpsertTranscript(ctx context.Context, t *pkg.SessionTranscript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.sessionPath(t.SessionID)
	if err != nil {
		return err
	}
	defer s.lock(t.SessionID)()

	var doc fileSession
	if err := readJSON(path, &doc); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	doc.Transcript = cloneTranscript(t)
	if doc.Transcript.UpdatedAt.IsZero() {
		doc.Transcript.UpdatedAt = time.Now().UTC()
	}
	return writeJSON(path, &doc)
}

func (s *FileStore) PatientByID(ctx context.Context, patientID string) (*pkg.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.patientPath(patientID)
	if err != nil {
		return nil, ErrNotFound
	}
	var rec pkg.PatientRecord
	if err := readJSON(path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) PatientBySession(ctx context.Context, sessionID string) (*pkg.PatientRecord, error) {
	doc, err := s.readSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if doc.Patient == nil {
		return nil, ErrNotFound
	}
	return doc.Patient, nil
}

func (s *FileStore) GetTranscript(ctx context.Context, sessionID string) (*pkg.SessionTranscript, error) {
	doc, err := s.readSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if doc.Transcript == nil {
		return nil, ErrNotFound
	}
	return doc.Transcript, nil
}

func (s *FileStore) readSession(ctx context.Context, sessionID string) (*fileSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.sessionPath(sessionID)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc fileSession
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *FileStore) Close() error { return nil }

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON writes to a temporary file and renames it over path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
