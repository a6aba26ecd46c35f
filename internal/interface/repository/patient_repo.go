package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoPatientRepository implements PatientRepository
type MongoPatientRepository struct {
	collection *mongo.Collection
}

// NewMongoPatientRepository creates a new patient repository
func NewMongoPatientRepository(db *mongo.Database) repository.PatientRepository {
	collection := db.Collection("patients")

	ctx := context.Background()

	// Index on unit + status for queue listings
	statusIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "unit", Value: 1},
			{Key: "status", Value: 1},
		},
	}

	// Index on createdAt for FIFO ordering
	createdAtIndex := mongo.IndexModel{
		Keys: bson.M{"createdAt": 1},
	}

	collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		statusIndex,
		createdAtIndex,
	})

	return &MongoPatientRepository{
		collection: collection,
	}
}

// Save writes the full patient record, creating it when missing
func (r *MongoPatientRepository) Save(ctx context.Context, patient entity.Patient) error {
	updateDoc := bson.M{
		"name":         patient.Name,
		"ticket":       patient.Ticket,
		"priority":     patient.Priority,
		"status":       patient.Status,
		"unit":         patient.Unit,
		"createdAt":    patient.CreatedAt,
		"updatedAt":    patient.UpdatedAt,
		"calledAt":     patient.CalledAt,
		"calledBy":     patient.CalledBy,
		"destination":  patient.Destination,
		"observations": patient.Observations,
		"misses":       patient.Misses,
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": patient.ID},
		bson.M{"$set": updateDoc},
		opts,
	)
	if err != nil {
		return fmt.Errorf("failed to save patient %s: %w", patient.ID, err)
	}
	return nil
}

// FindByID finds a patient by id
func (r *MongoPatientRepository) FindByID(ctx context.Context, id string) (*entity.Patient, error) {
	var patient entity.Patient
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&patient)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("patient %s: %w", id, entity.ErrNotFound)
		}
		return nil, err
	}
	return &patient, nil
}

// FindAll returns every patient of a unit, oldest first
func (r *MongoPatientRepository) FindAll(ctx context.Context, unit string) ([]entity.Patient, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"unit": unit}, &options.FindOptions{
		Sort: bson.D{{Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var patients []entity.Patient
	if err := cursor.All(ctx, &patients); err != nil {
		return nil, err
	}

	return patients, nil
}

// Delete removes a patient record
func (r *MongoPatientRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}

	if result.DeletedCount == 0 {
		return fmt.Errorf("patient %s: %w", id, entity.ErrNotFound)
	}

	return nil
}

// MongoCallHistoryRepository archives call events, insert only
type MongoCallHistoryRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoCallHistoryRepository creates the call event archive
func NewMongoCallHistoryRepository(db *mongo.Database) repository.CallHistoryRepository {
	collection := db.Collection("call_events")

	ctx := context.Background()

	unitIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "unit", Value: 1},
			{Key: "calledAt", Value: -1},
		},
	}
	calledAtIndex := mongo.IndexModel{
		Keys: bson.M{"calledAt": -1},
	}

	collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		unitIndex,
		calledAtIndex,
	})

	return &MongoCallHistoryRepository{
		collection: collection,
		now:        time.Now,
	}
}

// Append inserts an event
func (r *MongoCallHistoryRepository) Append(ctx context.Context, event entity.CallEvent) error {
	if _, err := r.collection.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to archive call event: %w", err)
	}
	return nil
}

// List returns events in insertion order
func (r *MongoCallHistoryRepository) List(ctx context.Context) ([]entity.CallEvent, error) {
	return r.find(ctx, bson.M{}, 1)
}

// RecentByUnit returns the unit's events since the given time, newest first
func (r *MongoCallHistoryRepository) RecentByUnit(ctx context.Context, unit string, since time.Time) ([]entity.CallEvent, error) {
	filter := bson.M{
		"unit":     unit,
		"calledAt": bson.M{"$gte": since},
	}
	return r.find(ctx, filter, -1)
}

// CountByNormalizedName loads the window and groups it the same way the memory ledger does
func (r *MongoCallHistoryRepository) CountByNormalizedName(ctx context.Context, windowDays int) (map[string]entity.FrequentPatientRecord, error) {
	cutoff := r.now().AddDate(0, 0, -windowDays)
	events, err := r.find(ctx, bson.M{"calledAt": bson.M{"$gte": cutoff}}, 1)
	if err != nil {
		return nil, err
	}
	return countVisits(events, cutoff), nil
}

func (r *MongoCallHistoryRepository) find(ctx context.Context, filter bson.M, order int) ([]entity.CallEvent, error) {
	cursor, err := r.collection.Find(ctx, filter, &options.FindOptions{
		Sort: bson.D{{Key: "calledAt", Value: order}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []entity.CallEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
