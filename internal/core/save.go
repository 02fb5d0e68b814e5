package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"medintake-chatbot/internal/db"
	"medintake-chatbot/pkg"
)

// Save stores the client's copy of the conversation, replacing any earlier
// save for the session.  The patient snapshot is taken from the request when
// present, keeping the id of the record created during the chat.
func (s *ChatService) Save(ctx context.Context, req pkg.SaveRequest) (*pkg.SessionTranscript, error) {
	if len(req.ChatHistory) == 0 {
		return nil, fmt.Errorf("%w: chatHistory is required", ErrValidation)
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrValidation)
	}

	stored, err := s.Store.PatientBySession(ctx, sessionID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	t := &pkg.SessionTranscript{
		SessionID:   sessionID,
		Turns:       req.ChatHistory,
		PatientData: patientSnapshot(sessionID, req.PatientData, stored),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Store.UpsertTranscript(ctx, t); err != nil {
		s.Log.Error().Err(err).Str("session_id", sessionID).Msg("failed to save transcript")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.Log.Info().Str("session_id", sessionID).Int("turns", len(t.Turns)).Msg("transcript saved")
	return t, nil
}

func patientSnapshot(sessionID string, form *pkg.PatientData, stored *pkg.PatientRecord) *pkg.PatientRecord {
	if form == nil {
		return stored
	}
	snap := &pkg.PatientRecord{
		SessionID:        sessionID,
		Name:             strings.TrimSpace(form.Name),
		Age:              int(form.Age),
		Gender:           ParseGender(form.Gender),
		InitialComplaint: strings.TrimSpace(form.Complaint),
	}
	if snap.Name == "" {
		snap.Name = unknownName
	}
	if stored != nil {
		snap.PatientID = stored.PatientID
		snap.CreatedAt = stored.CreatedAt
	}
	return snap
}

// Transcript returns the last saved transcript of a session.
func (s *ChatService) Transcript(ctx context.Context, sessionID string) (*pkg.SessionTranscript, error) {
	t, err := s.Store.GetTranscript(ctx, sessionID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return t, err
}

// WriteTranscriptCSV renders a transcript as a chat log: a patient header
// block when details are known, then one row per turn.
func WriteTranscriptCSV(w io.Writer, t *pkg.SessionTranscript) error {
	cw := csv.NewWriter(w)
	if p := t.PatientData; p != nil {
		rows := [][]string{
			{"ID Pasien", p.PatientID},
			{"Nama Pasien", p.Name},
			{"Umur", strconv.Itoa(p.Age)},
			{"Gender", string(p.Gender)},
			{"Keluhan Awal", p.InitialComplaint},
			{},
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
	} else if err := cw.Write([]string{"Log Mentah (Data Pasien Tidak Terdeteksi/Belum Lengkap)"}); err != nil {
		return err
	}
	if err := cw.Write([]string{"Timestamp", "Sender", "Message"}); err != nil {
		return err
	}
	for _, turn := range t.Turns {
		if err := cw.Write([]string{turn.Timestamp, string(turn.Sender), turn.Message}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
