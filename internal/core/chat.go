package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medintake-chatbot/internal/db"
	"medintake-chatbot/internal/llm"
	"medintake-chatbot/pkg"
)

var (
	// ErrValidation marks requests rejected before any side effect.
	ErrValidation = errors.New("invalid request")
	// ErrPersistence marks a failed store operation.
	ErrPersistence = errors.New("persistence failure")
)

// Routes reported alongside a reply.  Replies produced by the model carry the
// name of their stage instead.
const (
	RouteRefusal = "refusal"
	RouteLookup  = "lookup"
)

// lookupCommands turn a first message into a record lookup.  Matching is
// case-insensitive.
var lookupCommands = []string{"check ", "cek id "}

const patientIDAttempts = 3

// ChatService orchestrates one patient turn: it filters the message, picks
// the instruction set from the number of patient turns, creates the patient
// record on the first turn and relays the model's reply.
type ChatService struct {
	LLM   llm.Client
	Store db.Store
	Log   zerolog.Logger

	newPatientID func() string
}

// NewChatService constructs a new ChatService.
func NewChatService(client llm.Client, store db.Store, log zerolog.Logger) *ChatService {
	return &ChatService{
		LLM:          client,
		Store:        store,
		Log:          log.With().Str("component", "chat").Logger(),
		newPatientID: newPatientID,
	}
}

// Reply is the outcome of a chat turn.  Stream must be drained or closed by
// the caller.  Patient is set only on the turn that created the record.
type Reply struct {
	SessionID string
	Route     string
	Patient   *pkg.PatientRecord
	Stream    *llm.Stream
}

// Reply handles one chat request.  Validation failures wrap ErrValidation and
// store failures wrap ErrPersistence; everything that goes wrong upstream is
// reported inside the stream instead.
func (s *ChatService) Reply(ctx context.Context, req pkg.ChatRequest) (*Reply, error) {
	if len(req.History) == 0 {
		return nil, fmt.Errorf("%w: history is empty", ErrValidation)
	}
	view := NewConversationView(req.History)
	if view.UserTurnCount == 0 {
		return nil, fmt.Errorf("%w: history has no patient message", ErrValidation)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := s.Log.With().Str("session_id", sessionID).Int("user_turns", view.UserTurnCount).Logger()
	reply := &Reply{SessionID: sessionID}

	if IsOutOfDomain(view.LastUserText) {
		log.Info().Msg("refusing out-of-domain message")
		reply.Route = RouteRefusal
		reply.Stream = llm.NewStaticStream(RefusalMessage)
		return reply, nil
	}

	if view.UserTurnCount == 1 {
		if candidate, ok := lookupCandidate(view.LastUserText); ok {
			text, err := s.renderLookup(ctx, candidate)
			if err != nil {
				return nil, err
			}
			log.Info().Str("candidate", candidate).Msg("patient lookup")
			reply.Route = RouteLookup
			reply.Stream = llm.NewStaticStream(text)
			return reply, nil
		}

		patient, err := s.createPatient(ctx, sessionID, view.LastUserText)
		if err != nil {
			log.Error().Err(err).Msg("failed to create patient record")
			return nil, err
		}
		reply.Patient = patient
	}

	stage := SelectStage(view.UserTurnCount)
	reply.Route = stage.String()
	reply.Stream = s.LLM.Stream(ctx, stage.Instruction(), view.Messages)
	log.Debug().Str("stage", reply.Route).Msg("relaying upstream reply")
	return reply, nil
}

// createPatient extracts the patient's details from the first message and
// stores them.  It returns nil when the session already had a record, so
// that the details are only reported on the turn that created them.
func (s *ChatService) createPatient(ctx context.Context, sessionID, firstText string) (*pkg.PatientRecord, error) {
	info := ExtractPatientInfo(firstText)
	for attempt := 0; attempt < patientIDAttempts; attempt++ {
		rec := &pkg.PatientRecord{
			PatientID:        s.newPatientID(),
			SessionID:        sessionID,
			Name:             info.Name,
			Age:              info.Age,
			Gender:           info.Gender,
			InitialComplaint: info.Complaint,
		}
		stored, err := s.Store.UpsertPatient(ctx, rec)
		if errors.Is(err, db.ErrDuplicatePatientID) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if stored.PatientID != rec.PatientID {
			return nil, nil
		}
		return stored, nil
	}
	return nil, fmt.Errorf("%w: could not allocate a patient id", ErrPersistence)
}

func (s *ChatService) renderLookup(ctx context.Context, candidate string) (string, error) {
	rec, err := db.FindPatient(ctx, s.Store, candidate)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Sprintf(PatientNotFoundMessage, candidate), nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return RenderPatient(rec), nil
}

// RenderPatient formats a record for the chat window.
func RenderPatient(rec *pkg.PatientRecord) string {
	return fmt.Sprintf(patientFoundTemplate, rec.PatientID, rec.Name, rec.Age, rec.Gender, rec.InitialComplaint)
}

// LookupPatient finds a record by a typed-in patient id.
func (s *ChatService) LookupPatient(ctx context.Context, candidate string) (*pkg.PatientRecord, error) {
	rec, err := db.FindPatient(ctx, s.Store, candidate)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, err
}

func lookupCandidate(text string) (string, bool) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	for _, cmd := range lookupCommands {
		if len(trimmed) < len(cmd) || !strings.EqualFold(trimmed[:len(cmd)], cmd) {
			continue
		}
		fields := strings.Fields(trimmed[len(cmd):])
		if len(fields) == 0 {
			return "", true
		}
		return fields[0], true
	}
	return "", false
}

// newPatientID returns a short upper-case alphanumeric token such as
// "P3F9A1C2".
func newPatientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "P" + strings.ToUpper(id[:7])
}
