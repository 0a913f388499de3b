package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/shellguard/pkg/api"
)

// MongoAuditStore is an AuditStore backed by a MongoDB collection.
// Documents get a driver-generated ObjectID, which orders them by insertion.
type MongoAuditStore struct {
	coll *mongo.Collection
}

var _ AuditStore = (*MongoAuditStore)(nil)

// NewMongoAuditStore creates a Mongo-backed audit store.
// dbName defaults to "shellguard" if empty, collName defaults to "audit".
func NewMongoAuditStore(client *mongo.Client, dbName, collName string) *MongoAuditStore {
	if dbName == "" {
		dbName = "shellguard"
	}
	if collName == "" {
		collName = "audit"
	}
	return &MongoAuditStore{coll: client.Database(dbName).Collection(collName)}
}

type mongoAuditDoc struct {
	ActionID    string    `bson:"action_id"`
	SessionID   string    `bson:"session_id"`
	Command     string    `bson:"command"`
	Parameter   string    `bson:"parameter"`
	Status      string    `bson:"status"`
	RiskScore   int       `bson:"risk_score"`
	RiskLevel   string    `bson:"risk_level"`
	ApprovedBy  string    `bson:"approved_by,omitempty"`
	RejectedBy  string    `bson:"rejected_by,omitempty"`
	Reason      string    `bson:"reason,omitempty"`
	Message     string    `bson:"message,omitempty"`
	ExitCode    *int      `bson:"exit_code,omitempty"`
	SubmittedAt time.Time `bson:"submitted_at"`
	FinishedAt  time.Time `bson:"finished_at"`
}

// EnsureIndexes creates the session and status indexes used by List.
func (s *MongoAuditStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "_id", Value: -1}}},
	})
	return err
}

func (s *MongoAuditStore) Append(ctx context.Context, r AuditRecord) error {
	doc := mongoAuditDoc{
		ActionID:    r.ActionID,
		SessionID:   r.SessionID,
		Command:     r.Command,
		Parameter:   r.Parameter,
		Status:      string(r.Status),
		RiskScore:   r.RiskScore,
		RiskLevel:   string(r.RiskLevel),
		ApprovedBy:  r.ApprovedBy,
		RejectedBy:  r.RejectedBy,
		Reason:      r.Reason,
		Message:     r.Message,
		ExitCode:    r.ExitCode,
		SubmittedAt: r.SubmittedAt,
		FinishedAt:  r.FinishedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo audit append %q: %w", r.ActionID, err)
	}
	return nil
}

func (s *MongoAuditStore) List(ctx context.Context, f AuditFilter) ([]AuditRecord, error) {
	filter := bson.M{}
	if f.SessionID != "" {
		filter["session_id"] = f.SessionID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(f.limit()))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo audit list: %w", err)
	}
	defer cur.Close(ctx)

	var out []AuditRecord
	for cur.Next(ctx) {
		var doc mongoAuditDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, AuditRecord{
			ActionID:    doc.ActionID,
			SessionID:   doc.SessionID,
			Command:     doc.Command,
			Parameter:   doc.Parameter,
			Status:      api.Phase(doc.Status),
			RiskScore:   doc.RiskScore,
			RiskLevel:   api.RiskLevel(doc.RiskLevel),
			ApprovedBy:  doc.ApprovedBy,
			RejectedBy:  doc.RejectedBy,
			Reason:      doc.Reason,
			Message:     doc.Message,
			ExitCode:    doc.ExitCode,
			SubmittedAt: doc.SubmittedAt,
			FinishedAt:  doc.FinishedAt,
		})
	}
	return out, cur.Err()
}
