package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medintake-chatbot/pkg"
)

// runStoreContract exercises the behaviour every Store backend must share.
// prefix keeps keys of repeated runs against a shared database apart.
func runStoreContract(t *testing.T, s Store, prefix string) {
	ctx := context.Background()
	key := func(s string) string { return prefix + s }

	t.Run("patient insert if absent", func(t *testing.T) {
		rec := &pkg.PatientRecord{
			PatientID: key("PA"), SessionID: key("s-a"),
			Name: "Eka", Age: 30, Gender: pkg.GenderMale, InitialComplaint: "sakit perut",
		}
		got, err := s.UpsertPatient(ctx, rec)
		if err != nil {
			t.Fatalf("UpsertPatient: %v", err)
		}
		if got.PatientID != rec.PatientID || got.Name != "Eka" || got.CreatedAt.IsZero() {
			t.Errorf("unexpected stored record %+v", got)
		}

		again, err := s.UpsertPatient(ctx, &pkg.PatientRecord{PatientID: key("PB"), SessionID: key("s-a"), Name: "Budi"})
		if err != nil {
			t.Fatalf("second UpsertPatient: %v", err)
		}
		if again.PatientID != rec.PatientID || again.Name != "Eka" {
			t.Errorf("existing record was replaced: %+v", again)
		}
		if _, err := s.PatientByID(ctx, key("PB")); !errors.Is(err, ErrNotFound) {
			t.Errorf("the rejected id must not be stored, got %v", err)
		}
	})

	t.Run("patient id taken by another session", func(t *testing.T) {
		if _, err := s.UpsertPatient(ctx, &pkg.PatientRecord{PatientID: key("PA"), SessionID: key("s-other")}); !errors.Is(err, ErrDuplicatePatientID) {
			t.Errorf("expected ErrDuplicatePatientID, got %v", err)
		}
		if _, err := s.PatientBySession(ctx, key("s-other")); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected no record for the session, got %v", err)
		}
	})

	t.Run("patient lookups", func(t *testing.T) {
		byID, err := s.PatientByID(ctx, key("PA"))
		if err != nil || byID.SessionID != key("s-a") {
			t.Fatalf("PatientByID: %+v, %v", byID, err)
		}
		bySession, err := s.PatientBySession(ctx, key("s-a"))
		if err != nil || bySession.PatientID != key("PA") {
			t.Fatalf("PatientBySession: %+v, %v", bySession, err)
		}
		if _, err := s.PatientByID(ctx, key("missing")); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		found, err := FindPatient(ctx, s, "  "+key("PA")+" ")
		if err != nil || found.PatientID != key("PA") {
			t.Errorf("FindPatient: %+v, %v", found, err)
		}
	})

	t.Run("transcript replace", func(t *testing.T) {
		sid := key("s-t")
		if _, err := s.GetTranscript(ctx, sid); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound before the first save, got %v", err)
		}
		first := &pkg.SessionTranscript{
			SessionID: sid,
			Turns:     []pkg.ChatTurn{{Sender: pkg.SenderUser, Message: "halo", Timestamp: "1"}},
			PatientData: &pkg.PatientRecord{
				PatientID: key("PA"), SessionID: sid, Name: "Eka", Age: 30, Gender: pkg.GenderMale,
			},
			UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		if err := s.UpsertTranscript(ctx, first); err != nil {
			t.Fatalf("UpsertTranscript: %v", err)
		}
		second := &pkg.SessionTranscript{
			SessionID: sid,
			Turns: []pkg.ChatTurn{
				{Sender: pkg.SenderUser, Message: "halo", Timestamp: "1"},
				{Sender: pkg.SenderBot, Message: "Ada keluhan apa?", Timestamp: "2"},
			},
			UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		if err := s.UpsertTranscript(ctx, second); err != nil {
			t.Fatalf("second UpsertTranscript: %v", err)
		}
		got, err := s.GetTranscript(ctx, sid)
		if err != nil {
			t.Fatalf("GetTranscript: %v", err)
		}
		if len(got.Turns) != 2 || got.Turns[1].Message != "Ada keluhan apa?" || got.Turns[1].Sender != pkg.SenderBot {
			t.Errorf("expected the second save, got %+v", got.Turns)
		}
		if got.PatientData != nil {
			t.Errorf("expected the patient snapshot to be replaced too, got %+v", got.PatientData)
		}
	})

	t.Run("concurrent saves never mix", func(t *testing.T) {
		sid := key("s-c")
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				turns := make([]pkg.ChatTurn, i+1)
				for j := range turns {
					turns[j] = pkg.ChatTurn{Sender: pkg.SenderUser, Message: fmt.Sprintf("w%d", i)}
				}
				if err := s.UpsertTranscript(ctx, &pkg.SessionTranscript{SessionID: sid, Turns: turns}); err != nil {
					t.Errorf("writer %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		got, err := s.GetTranscript(ctx, sid)
		if err != nil {
			t.Fatalf("GetTranscript: %v", err)
		}
		writer := got.Turns[0].Message
		for _, turn := range got.Turns {
			if turn.Message != writer {
				t.Fatalf("transcript mixes writers: %+v", got.Turns)
			}
		}
		if want := fmt.Sprintf("w%d", len(got.Turns)-1); writer != want {
			t.Errorf("turn count does not match writer %s", writer)
		}
	})

	t.Run("concurrent first turns create one record", func(t *testing.T) {
		sid := key("s-race")
		var wg sync.WaitGroup
		ids := make([]string, 6)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, err := s.UpsertPatient(ctx, &pkg.PatientRecord{PatientID: key(fmt.Sprintf("PR%d", i)), SessionID: sid})
				if err != nil {
					t.Errorf("writer %d: %v", i, err)
					return
				}
				ids[i] = rec.PatientID
			}(i)
		}
		wg.Wait()
		for _, id := range ids[1:] {
			if id != ids[0] {
				t.Fatalf("sessions got different records: %v", ids)
			}
		}
	})
}
