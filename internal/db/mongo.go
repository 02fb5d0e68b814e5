package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medintake-chatbot/pkg"
)

const (
	patientsCollection    = "patients"
	transcriptsCollection = "transcripts"
)

// MongoStore keeps patients and transcripts as documents.  A transcript's
// _id is its session id, so a save is a single-document replace.
type MongoStore struct {
	client      *mongo.Client
	patients    *mongo.Collection
	transcripts *mongo.Collection
}

// OpenMongo connects, verifies the connection and makes sure the unique
// indexes exist.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:      client,
		patients:    db.Collection(patientsCollection),
		transcripts: db.Collection(transcriptsCollection),
	}
	_, err = s.patients.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "patient_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) UpsertPatient(ctx context.Context, rec *pkg.PatientRecord) (*pkg.PatientRecord, error) {
	stored := clonePatient(rec)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	filter := bson.M{"session_id": rec.SessionID}
	_, err := s.patients.UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": stored},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, err
		}
		// Either a concurrent insert for the same session won, or the
		// patient id belongs to someone else.
		existing, findErr := s.PatientBySession(ctx, rec.SessionID)
		if findErr == nil {
			return existing, nil
		}
		return nil, ErrDuplicatePatientID
	}
	return s.PatientBySession(ctx, rec.SessionID)
}

func (s *MongoStore) UpsertTranscript(ctx context.Context, t *pkg.SessionTranscript) error {
	doc := cloneTranscript(t)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	replace := func() error {
		_, err := s.transcripts.ReplaceOne(ctx, bson.M{"_id": t.SessionID}, doc, options.Replace().SetUpsert(true))
		return err
	}
	err := replace()
	if mongo.IsDuplicateKeyError(err) {
		// Two first saves raced on the insert; the document exists now.
		err = replace()
	}
	return err
}

func (s *MongoStore) PatientByID(ctx context.Context, patientID string) (*pkg.PatientRecord, error) {
	return s.findPatient(ctx, bson.M{"patient_id": patientID})
}

func (s *MongoStore) PatientBySession(ctx context.Context, sessionID string) (*pkg.PatientRecord, error) {
	return s.findPatient(ctx, bson.M{"session_id": sessionID})
}

func (s *MongoStore) findPatient(ctx context.Context, filter bson.M) (*pkg.PatientRecord, error) {
	var rec pkg.PatientRecord
	if err := s.patients.FindOne(ctx, filter).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) GetTranscript(ctx context.Context, sessionID string) (*pkg.SessionTranscript, error) {
	var t pkg.SessionTranscript
	if err := s.transcripts.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
