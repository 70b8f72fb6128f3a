package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/flight"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const resultsCollection = "search_results"

// mongoRecord is the stored document
type mongoRecord struct {
	EntryID    string    `bson:"entry_id"`
	JobID      string    `bson:"job_id"`
	ResultCode int       `bson:"result"`
	Flights    int       `bson:"flights"`
	Combined   int       `bson:"combined"`
	ReceivedAt time.Time `bson:"received_at"`
	Payload    string    `bson:"payload"`
}

// NewMongoClient connects to uri and pings the server
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// MongoHistory stores every accepted result as a document
type MongoHistory struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoHistory uses database name on client and ensures its indexes
func NewMongoHistory(ctx context.Context, client *mongo.Client, name string) (*MongoHistory, error) {
	collection := client.Database(name).Collection(resultsCollection)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "received_at", Value: -1}}},
		{Keys: bson.M{"received_at": 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create indexes on %s: %w", resultsCollection, err)
	}

	return &MongoHistory{client: client, collection: collection, now: time.Now}, nil
}

// Save inserts result
func (h *MongoHistory) Save(ctx context.Context, entryID string, result *flight.SearchResult) error {
	rec, err := newRecord(entryID, result, h.now())
	if err != nil {
		return err
	}
	_, err = h.collection.InsertOne(ctx, toMongo(rec))
	if err != nil {
		return fmt.Errorf("insert result %s: %w", rec.JobID, err)
	}
	return nil
}

// Latest returns the most recently received result for jobID
func (h *MongoHistory) Latest(ctx context.Context, jobID string) (*flight.SearchResult, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "received_at", Value: -1}})

	var doc mongoRecord
	err := h.collection.FindOne(ctx, bson.M{"job_id": jobID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find result %s: %w", jobID, err)
	}
	return fromMongo(doc).Result()
}

// Close disconnects the client
func (h *MongoHistory) Close(ctx context.Context) error {
	return h.client.Disconnect(ctx)
}

func toMongo(r Record) mongoRecord {
	return mongoRecord{
		EntryID:    r.EntryID,
		JobID:      r.JobID,
		ResultCode: r.ResultCode,
		Flights:    r.Flights,
		Combined:   r.Combined,
		ReceivedAt: r.ReceivedAt,
		Payload:    string(r.Payload),
	}
}

func fromMongo(doc mongoRecord) Record {
	return Record{
		EntryID:    doc.EntryID,
		JobID:      doc.JobID,
		ResultCode: doc.ResultCode,
		Flights:    doc.Flights,
		Combined:   doc.Combined,
		ReceivedAt: doc.ReceivedAt,
		Payload:    []byte(doc.Payload),
	}
}
