package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medintake-chatbot/internal/db"
	"medintake-chatbot/internal/llm"
	"medintake-chatbot/pkg"
)

type fakeLLM struct {
	mu          sync.Mutex
	calls       int
	instruction string
	messages    []llm.Message
	fragments   []string
}

func (f *fakeLLM) Stream(ctx context.Context, instruction string, messages []llm.Message) *llm.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.instruction = instruction
	f.messages = messages
	return llm.NewStaticStream(f.fragments...)
}

// failingStore fails every write.
type failingStore struct {
	*db.MemoryStore
}

func (failingStore) UpsertPatient(context.Context, *pkg.PatientRecord) (*pkg.PatientRecord, error) {
	return nil, errors.New("disk full")
}

func (failingStore) UpsertTranscript(context.Context, *pkg.SessionTranscript) error {
	return errors.New("disk full")
}

func newTestService(fragments ...string) (*ChatService, *fakeLLM, *db.MemoryStore) {
	fake := &fakeLLM{fragments: fragments}
	store := db.NewMemoryStore()
	return NewChatService(fake, store, zerolog.Nop()), fake, store
}

func drain(t *testing.T, s *llm.Stream) []string {
	t.Helper()
	defer s.Close()
	var out []string
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		out = append(out, fragment)
	}
}

// history builds an alternating conversation ending with the given patient
// messages and an empty bot placeholder, as the browser client sends it.
func history(userMessages ...string) []pkg.ChatTurn {
	var turns []pkg.ChatTurn
	for i, m := range userMessages {
		turns = append(turns, pkg.ChatTurn{Sender: pkg.SenderUser, Message: m, Timestamp: fmt.Sprintf("t%d", i)})
		if i < len(userMessages)-1 {
			turns = append(turns, pkg.ChatTurn{Sender: pkg.SenderBot, Message: "balasan", Timestamp: fmt.Sprintf("b%d", i)})
		}
	}
	return append(turns, pkg.ChatTurn{Sender: pkg.SenderBot, Message: ""})
}

func TestReply_RejectsEmptyHistory(t *testing.T) {
	svc, fake, _ := newTestService()
	_, err := svc.Reply(context.Background(), pkg.ChatRequest{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = svc.Reply(context.Background(), pkg.ChatRequest{History: []pkg.ChatTurn{{Sender: pkg.SenderBot, Message: "halo"}}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bot-only history, got %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("expected no upstream call, got %d", fake.calls)
	}
}

func TestReply_RefusesOutOfDomainAtAnyTurn(t *testing.T) {
	for turns := 1; turns <= 4; turns++ {
		svc, fake, store := newTestService("should not be sent")
		msgs := make([]string, turns)
		for i := range msgs {
			msgs[i] = "sakit kepala"
		}
		msgs[turns-1] = "Bagaimana cuaca hari ini?"

		reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history(msgs...), SessionID: "s-refuse"})
		if err != nil {
			t.Fatalf("turns=%d: unexpected error: %v", turns, err)
		}
		got := drain(t, reply.Stream)
		if len(got) != 1 || got[0] != RefusalMessage {
			t.Errorf("turns=%d: expected only the refusal, got %q", turns, got)
		}
		if fake.calls != 0 {
			t.Errorf("turns=%d: upstream called %d times", turns, fake.calls)
		}
		if reply.Route != RouteRefusal || reply.Patient != nil {
			t.Errorf("turns=%d: unexpected reply %+v", turns, reply)
		}
		if _, err := store.PatientBySession(context.Background(), "s-refuse"); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("turns=%d: expected no patient record, got %v", turns, err)
		}
	}
}

func TestReply_FirstTurnCreatesPatient(t *testing.T) {
	svc, fake, store := newTestService("Baik, ", "saya catat.")
	reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history("Eka, 30 tahun, pria, sakit perut parah")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(reply.SessionID); err != nil {
		t.Errorf("expected generated uuid session id, got %q", reply.SessionID)
	}
	if got := strings.Join(drain(t, reply.Stream), ""); got != "Baik, saya catat." {
		t.Errorf("unexpected relayed text %q", got)
	}
	if reply.Route != "intake" || fake.instruction != IntakePrompt {
		t.Errorf("expected intake stage, got route %q", reply.Route)
	}
	if len(fake.messages) != 1 || fake.messages[0].Role != llm.RoleUser {
		t.Errorf("unexpected upstream messages %+v", fake.messages)
	}

	p := reply.Patient
	if p == nil {
		t.Fatal("expected patient details on the first turn")
	}
	if p.Name != "Eka" || p.Age != 30 || p.Gender != pkg.GenderMale || p.InitialComplaint != "sakit perut parah" {
		t.Errorf("unexpected patient %+v", p)
	}
	if !strings.HasPrefix(p.PatientID, "P") || len(p.PatientID) != 8 {
		t.Errorf("unexpected patient id %q", p.PatientID)
	}
	stored, err := store.PatientBySession(context.Background(), reply.SessionID)
	if err != nil || stored.PatientID != p.PatientID {
		t.Errorf("expected stored patient %q, got %+v (%v)", p.PatientID, stored, err)
	}
}

func TestReply_FirstTurnRetryKeepsOriginalPatient(t *testing.T) {
	svc, _, store := newTestService("ok")
	req := pkg.ChatRequest{History: history("Eka, 30 tahun, pria, sakit perut parah"), SessionID: "s-retry"}

	first, err := svc.Reply(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(t, first.Stream)

	req.History = history("Budi, 50 tahun, pria, batuk")
	second, err := svc.Reply(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(t, second.Stream)

	if second.Patient != nil {
		t.Errorf("expected no patient details on a repeated first turn, got %+v", second.Patient)
	}
	stored, _ := store.PatientBySession(context.Background(), "s-retry")
	if stored.PatientID != first.Patient.PatientID || stored.Name != "Eka" {
		t.Errorf("patient record was replaced: %+v", stored)
	}
}

func TestReply_StageFollowsTurnCount(t *testing.T) {
	tests := []struct {
		turns int
		route string
		instr string
	}{
		{2, "analysis", AnalysisPrompt},
		{3, "natural", NaturalPrompt},
		{7, "natural", NaturalPrompt},
	}
	for _, tt := range tests {
		svc, fake, store := newTestService("jawaban")
		msgs := make([]string, tt.turns)
		for i := range msgs {
			msgs[i] = fmt.Sprintf("keluhan %d", i)
		}
		reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history(msgs...), SessionID: "s-stage"})
		if err != nil {
			t.Fatalf("turns=%d: unexpected error: %v", tt.turns, err)
		}
		drain(t, reply.Stream)
		if reply.Route != tt.route || fake.instruction != tt.instr {
			t.Errorf("turns=%d: got route %q", tt.turns, reply.Route)
		}
		if reply.Patient != nil {
			t.Errorf("turns=%d: unexpected patient details", tt.turns)
		}
		if _, err := store.PatientBySession(context.Background(), "s-stage"); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("turns=%d: later turns must not create a record", tt.turns)
		}
		if len(fake.messages) != 2*tt.turns-1 {
			t.Errorf("turns=%d: expected %d upstream messages, got %d", tt.turns, 2*tt.turns-1, len(fake.messages))
		}
	}
}

func TestReply_Lookup(t *testing.T) {
	svc, fake, store := newTestService("unused")
	rec := &pkg.PatientRecord{PatientID: "PABC1234", SessionID: "s-old", Name: "Eka", Age: 30, Gender: pkg.GenderMale, InitialComplaint: "sakit perut"}
	if _, err := store.UpsertPatient(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history("check pabc1234")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drain(t, reply.Stream)
	stored, _ := store.PatientByID(context.Background(), "PABC1234")
	if len(got) != 1 || got[0] != RenderPatient(stored) {
		t.Errorf("unexpected lookup reply %q", got)
	}
	if reply.Route != RouteLookup || reply.Patient != nil {
		t.Errorf("unexpected reply %+v", reply)
	}

	reply, err = svc.Reply(context.Background(), pkg.ChatRequest{History: history("CEK ID nope")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got = drain(t, reply.Stream)
	if len(got) != 1 || got[0] != fmt.Sprintf(PatientNotFoundMessage, "nope") {
		t.Errorf("unexpected not-found reply %q", got)
	}
	if fake.calls != 0 {
		t.Errorf("lookups must not reach upstream, got %d calls", fake.calls)
	}
}

func TestReply_LookupOnlyOnFirstTurn(t *testing.T) {
	svc, fake, _ := newTestService("jawaban")
	reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history("sakit perut", "check PABC1234")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(t, reply.Stream)
	if fake.calls != 1 || reply.Route != "analysis" {
		t.Errorf("expected an upstream analysis call, got %d calls route %q", fake.calls, reply.Route)
	}
}

func TestReply_FilterTakesPrecedenceOverLookup(t *testing.T) {
	svc, _, _ := newTestService()
	reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history("check cuaca")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drain(t, reply.Stream); len(got) != 1 || got[0] != RefusalMessage {
		t.Errorf("expected refusal, got %q", got)
	}
}

func TestReply_PersistenceFailure(t *testing.T) {
	fake := &fakeLLM{fragments: []string{"x"}}
	svc := NewChatService(fake, failingStore{db.NewMemoryStore()}, zerolog.Nop())
	_, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history("Eka, 30 tahun, pria, sakit perut")})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("expected no upstream call, got %d", fake.calls)
	}
}

func TestReply_RetriesTakenPatientID(t *testing.T) {
	svc, _, store := newTestService("ok")
	if _, err := store.UpsertPatient(context.Background(), &pkg.PatientRecord{PatientID: "P0000001", SessionID: "other"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ids := []string{"P0000001", "P0000002"}
	svc.newPatientID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history("Eka, 30 tahun, pria, sakit perut")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(t, reply.Stream)
	if reply.Patient == nil || reply.Patient.PatientID != "P0000002" {
		t.Errorf("expected second id to be used, got %+v", reply.Patient)
	}
}

func TestReply_DoseRangeQuestionIsNotRefused(t *testing.T) {
	svc, fake, _ := newTestService("Boleh, sesuai anjuran.")
	reply, err := svc.Reply(context.Background(), pkg.ChatRequest{History: history("Sari, 28 tahun, wanita, demam. Obatnya diminum berapa 2-3 kali sehari?")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(t, reply.Stream)
	if reply.Route != "intake" || fake.calls != 1 {
		t.Errorf("expected an intake reply from upstream, got route %q with %d calls", reply.Route, fake.calls)
	}
	if reply.Patient == nil || reply.Patient.Name != "Sari" {
		t.Errorf("expected a patient record, got %+v", reply.Patient)
	}
}
