package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

const (
	// WorkflowEventsCollectionName is the name of the audit log collection in MongoDB
	WorkflowEventsCollectionName = "workflow_events"
)

var _ workflow.EventRepository = (*WorkflowEventRepository)(nil)

// WorkflowEventRepository implements the workflow.EventRepository interface for MongoDB
type WorkflowEventRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewWorkflowEventRepository creates a new MongoDB workflow event repository
func NewWorkflowEventRepository(logger *slog.Logger, db *mongo.Database) *WorkflowEventRepository {
	return &WorkflowEventRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the lookup indexes used by status reads
func (r *WorkflowEventRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(WorkflowEventsCollectionName)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "occurred_at", Value: 1}}},
		{Keys: bson.D{{Key: "reference", Value: 1}, {Key: "occurred_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow event indexes: %w", err)
	}

	return nil
}

// Append stores a new audit event
func (r *WorkflowEventRepository) Append(ctx context.Context, event *workflow.Event) error {
	collection := r.db.Collection(WorkflowEventsCollectionName)

	if _, err := collection.InsertOne(ctx, event); err != nil {
		r.logger.Error("Failed to append workflow event",
			"request_id", event.RequestID,
			"state", string(event.State),
			"error", err)
		return fmt.Errorf("failed to append workflow event: %w", err)
	}

	return nil
}

// ListByRequestID returns the events of one workflow in the order they occurred
func (r *WorkflowEventRepository) ListByRequestID(ctx context.Context, requestID string) ([]*workflow.Event, error) {
	collection := r.db.Collection(WorkflowEventsCollectionName)

	filter := bson.M{"request_id": requestID}
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list workflow events",
			"request_id", requestID,
			"error", err)
		return nil, fmt.Errorf("failed to list workflow events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*workflow.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode workflow events",
			"request_id", requestID,
			"error", err)
		return nil, fmt.Errorf("failed to decode workflow events: %w", err)
	}

	return events, nil
}

// LatestByReference returns the most recent event for a caller reference, or nil if none exists
func (r *WorkflowEventRepository) LatestByReference(ctx context.Context, reference string) (*workflow.Event, error) {
	collection := r.db.Collection(WorkflowEventsCollectionName)

	filter := bson.M{"reference": reference}
	opts := options.FindOne().SetSort(bson.D{{Key: "occurred_at", Value: -1}})

	var event workflow.Event
	err := collection.FindOne(ctx, filter, opts).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		r.logger.Error("Failed to get latest workflow event",
			"reference", reference,
			"error", err)
		return nil, fmt.Errorf("failed to get latest workflow event: %w", err)
	}

	return &event, nil
}
