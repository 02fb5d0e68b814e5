package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"medintake-chatbot/pkg"
)

const uniqueViolation = "23505"

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists records in PostgreSQL.  Every transcript write also
// publishes the session id on a NOTIFY channel so that a watcher can follow
// saves as they happen.
type PostgresStore struct {
	DB            *sql.DB
	NotifyChannel string
}

// NewPostgresStore wraps an open connection pool.  The caller is responsible
// for running Migrate first.  An empty channel disables notifications.
func NewPostgresStore(db *sql.DB, notifyChannel string) *PostgresStore {
	return &PostgresStore{DB: db, NotifyChannel: notifyChannel}
}

// Migrate creates the patients and transcripts tables.  The statements are
// idempotent, so it runs on every postgres start as well as from the migrate
// command.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

func (r *PostgresStore) UpsertPatient(ctx context.Context, rec *pkg.PatientRecord) (*pkg.PatientRecord, error) {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO patients (patient_id, session_id, name, age, gender, initial_complaint, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (session_id) DO NOTHING`,
		rec.PatientID, rec.SessionID, rec.Name, rec.Age, string(rec.Gender), rec.InitialComplaint, createdAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicatePatientID
		}
		return nil, err
	}
	return r.PatientBySession(ctx, rec.SessionID)
}

func (r *PostgresStore) UpsertTranscript(ctx context.Context, t *pkg.SessionTranscript) error {
	turns, err := json.Marshal(t.Turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}
	var patientData []byte
	if t.PatientData != nil {
		if patientData, err = json.Marshal(t.PatientData); err != nil {
			return fmt.Errorf("encode patient data: %w", err)
		}
	}
	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A single upsert statement takes the row lock, so concurrent saves for
	// one session are applied one after the other.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, turns, patient_data, updated_at)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (session_id) DO UPDATE
         SET turns = EXCLUDED.turns,
             patient_data = EXCLUDED.patient_data,
             updated_at = EXCLUDED.updated_at`,
		t.SessionID, string(turns), nullJSON(patientData), updatedAt,
	); err != nil {
		return err
	}
	if r.NotifyChannel != "" {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, r.NotifyChannel, t.SessionID); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PostgresStore) PatientByID(ctx context.Context, patientID string) (*pkg.PatientRecord, error) {
	return r.queryPatient(ctx, `WHERE patient_id = $1`, patientID)
}

func (r *PostgresStore) PatientBySession(ctx context.Context, sessionID string) (*pkg.PatientRecord, error) {
	return r.queryPatient(ctx, `WHERE session_id = $1`, sessionID)
}

func (r *PostgresStore) queryPatient(ctx context.Context, where string, arg string) (*pkg.PatientRecord, error) {
	var rec pkg.PatientRecord
	var gender string
	err := r.DB.QueryRowContext(ctx,
		`SELECT patient_id, session_id, name, age, gender, initial_complaint, created_at
         FROM patients `+where, arg,
	).Scan(&rec.PatientID, &rec.SessionID, &rec.Name, &rec.Age, &gender, &rec.InitialComplaint, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Gender = pkg.Gender(gender)
	return &rec, nil
}

func (r *PostgresStore) GetTranscript(ctx context.Context, sessionID string) (*pkg.SessionTranscript, error) {
	t := pkg.SessionTranscript{SessionID: sessionID}
	var turns, patientData []byte
	err := r.DB.QueryRowContext(ctx,
		`SELECT turns, patient_data, updated_at FROM transcripts WHERE session_id = $1`,
		sessionID,
	).Scan(&turns, &patientData, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(turns, &t.Turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	if len(patientData) > 0 {
		t.PatientData = &pkg.PatientRecord{}
		if err := json.Unmarshal(patientData, t.PatientData); err != nil {
			return nil, fmt.Errorf("decode patient data: %w", err)
		}
	}
	return &t, nil
}

func (r *PostgresStore) Close() error { return r.DB.Close() }

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
