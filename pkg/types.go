package pkg

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Sender describes who authored a chat turn.  The browser client only ever
// sends the two values below.
type Sender string

const (
	SenderUser Sender = "User"
	SenderBot  Sender = "Bot"
)

// ChatTurn is one message of a conversation as exchanged with the client.
// Timestamp is kept as the opaque string the client produced.
type ChatTurn struct {
	Sender    Sender `json:"sender" bson:"sender"`
	Message   string `json:"message" bson:"message"`
	Timestamp string `json:"timestamp" bson:"timestamp"`
}

// IsUser reports whether the turn was written by the patient and carries text.
func (t ChatTurn) IsUser() bool {
	return t.Sender == SenderUser && strings.TrimSpace(t.Message) != ""
}

// Gender of a patient as recognised by the extractor.
type Gender string

const (
	GenderMale    Gender = "Male"
	GenderFemale  Gender = "Female"
	GenderUnknown Gender = "Unknown"
)

// PatientRecord is created once per session on the first patient turn.  The
// PatientID is a short random token that staff use to look the record up.
type PatientRecord struct {
	PatientID        string    `json:"patientId" bson:"patient_id"`
	SessionID        string    `json:"sessionId" bson:"session_id"`
	Name             string    `json:"name" bson:"name"`
	Age              int       `json:"age" bson:"age"`
	Gender           Gender    `json:"gender" bson:"gender"`
	InitialComplaint string    `json:"initialComplaint" bson:"initial_complaint"`
	CreatedAt        time.Time `json:"createdAt" bson:"created_at"`
}

// SessionTranscript is the last saved copy of a conversation.  Saving again
// for the same session replaces it.
type SessionTranscript struct {
	SessionID   string         `json:"sessionId" bson:"_id"`
	Turns       []ChatTurn     `json:"turns" bson:"turns"`
	PatientData *PatientRecord `json:"patientData,omitempty" bson:"patient_data,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt" bson:"updated_at"`
}

// ChatRequest is the body of the chat endpoint.
type ChatRequest struct {
	History   []ChatTurn `json:"history"`
	SessionID string     `json:"sessionId,omitempty"`
}

// PatientData is the patient form the browser client keeps and sends along
// with a save.
type PatientData struct {
	Name      string `json:"name"`
	Age       Age    `json:"age"`
	Gender    string `json:"gender"`
	Complaint string `json:"complaint"`
}

// SaveRequest is the body of the save endpoint.
type SaveRequest struct {
	ChatHistory []ChatTurn   `json:"chatHistory"`
	SessionID   string       `json:"sessionId"`
	PatientData *PatientData `json:"patientData,omitempty"`
}

// SaveResponse acknowledges a saved transcript.
type SaveResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ErrorResponse is returned for every rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Age accepts both a JSON number and a numeric string, since form inputs are
// posted as strings.  Anything unparseable decodes to zero.
type Age int

func (a *Age) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		*a = 0
		return nil
	}
	*a = Age(n)
	return nil
}
