package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-knowledge-platform/models"
)

// Collection names
const (
	colDocuments   = "documents"
	colJobs        = "ingestion_jobs"
	colChunks      = "document_chunks"
	colProviders   = "provider_config"
	colPreferences = "user_provider_preferences"
	colSessions    = "chat_sessions"
	colMessages    = "chat_messages"
	colAudit       = "audit_logs"
)

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(dbName)}
}

func (s *MongoStore) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func findOne[T any](ctx context.Context, col *mongo.Collection, filter any, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	err := col.FindOne(ctx, filter, opts...).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, col *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mustMatch(res *mongo.UpdateResult, err error) error {
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Documents

func (s *MongoStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.col(colDocuments).InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return findOne[models.Document](ctx, s.col(colDocuments), bson.M{"_id": id})
}

func (s *MongoStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return findAll[models.Document](ctx, s.col(colDocuments), bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *MongoStore) UpdateDocument(ctx context.Context, id string, u models.DocumentUpdate) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.ErrorMessage != nil {
		set["error_message"] = *u.ErrorMessage
	}
	if u.ChunkCount != nil {
		set["chunk_count"] = *u.ChunkCount
	}
	if u.IndexedAt != nil {
		set["indexed_at"] = *u.IndexedAt
	}
	return mustMatch(s.col(colDocuments).UpdateByID(ctx, id, bson.M{"$set": set}))
}

func (s *MongoStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.col(colDocuments).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Jobs

func (s *MongoStore) CreateJob(ctx context.Context, job *models.IngestionJob) error {
	_, err := s.col(colJobs).InsertOne(ctx, job)
	return err
}

func (s *MongoStore) GetJob(ctx context.Context, id string) (*models.IngestionJob, error) {
	return findOne[models.IngestionJob](ctx, s.col(colJobs), bson.M{"_id": id})
}

func (s *MongoStore) NextPendingJob(ctx context.Context) (*models.IngestionJob, error) {
	job, err := findOne[models.IngestionJob](ctx, s.col(colJobs),
		bson.M{"status": models.JobStatusPending},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (s *MongoStore) UpdateJob(ctx context.Context, id string, u models.JobUpdate) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.Stage != nil {
		set["stage"] = *u.Stage
	}
	if u.Error != nil {
		set["error"] = *u.Error
	}
	if u.EmbedProvider != nil {
		set["embed_provider"] = *u.EmbedProvider
	}
	if u.EmbedModel != nil {
		set["embed_model"] = *u.EmbedModel
	}
	if u.EmbedFallback != nil {
		set["embed_fallback"] = *u.EmbedFallback
	}
	if u.EmbedFallbackReason != nil {
		set["embed_fallback_reason"] = *u.EmbedFallbackReason
	}
	if u.ChunkCount != nil {
		set["chunk_count"] = *u.ChunkCount
	}
	if u.StartedAt != nil {
		set["started_at"] = *u.StartedAt
	}
	if u.FinishedAt != nil {
		set["finished_at"] = *u.FinishedAt
	}

	update := bson.M{"$set": set}
	if u.Progress != nil {
		update["$max"] = bson.M{"progress": *u.Progress}
	}
	return mustMatch(s.col(colJobs).UpdateByID(ctx, id, update))
}

func (s *MongoStore) ListJobsByStatus(ctx context.Context, status string) ([]models.IngestionJob, error) {
	return findAll[models.IngestionJob](ctx, s.col(colJobs), bson.M{"status": status},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (s *MongoStore) LatestJobForDocument(ctx context.Context, documentID string) (*models.IngestionJob, error) {
	return findOne[models.IngestionJob](ctx, s.col(colJobs), bson.M{"document_id": documentID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
}

func (s *MongoStore) DeleteJobsForDocument(ctx context.Context, documentID string) error {
	_, err := s.col(colJobs).DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}

// Chunks

func (s *MongoStore) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		docs[i] = chunks[i]
	}
	_, err := s.col(colChunks).InsertMany(ctx, docs)
	return err
}

func (s *MongoStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := s.col(colChunks).DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}

func (s *MongoStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	n, err := s.col(colChunks).CountDocuments(ctx, bson.M{"document_id": documentID})
	return int(n), err
}

// Provider configuration

func (s *MongoStore) GetProviderConfig(ctx context.Context) (*models.ProviderConfig, error) {
	return findOne[models.ProviderConfig](ctx, s.col(colProviders), bson.M{"_id": models.ProviderConfigID})
}

func (s *MongoStore) SaveProviderConfig(ctx context.Context, cfg *models.ProviderConfig) error {
	cfg.ID = models.ProviderConfigID
	_, err := s.col(colProviders).ReplaceOne(ctx, bson.M{"_id": cfg.ID}, cfg, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetPreference(ctx context.Context, userID string) (*models.UserProviderPreference, error) {
	pref, err := findOne[models.UserProviderPreference](ctx, s.col(colPreferences), bson.M{"_id": userID})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return pref, err
}

func (s *MongoStore) SavePreference(ctx context.Context, pref *models.UserProviderPreference) error {
	_, err := s.col(colPreferences).ReplaceOne(ctx, bson.M{"_id": pref.UserID}, pref, options.Replace().SetUpsert(true))
	return err
}

// Chat history

func (s *MongoStore) CreateSession(ctx context.Context, session *models.ChatSession) error {
	_, err := s.col(colSessions).InsertOne(ctx, session)
	return err
}

func (s *MongoStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	return findOne[models.ChatSession](ctx, s.col(colSessions), bson.M{"_id": id})
}

func (s *MongoStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	return mustMatch(s.col(colSessions).UpdateByID(ctx, id, bson.M{"$set": bson.M{"updated_at": at}}))
}

func (s *MongoStore) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := s.col(colMessages).InsertOne(ctx, msg)
	return err
}

func (s *MongoStore) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	return findAll[models.ChatMessage](ctx, s.col(colMessages), bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

// Audit

func (s *MongoStore) InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	// insert-only, never update
	_, err := s.col(colAudit).InsertOne(ctx, event)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("audit event %s already recorded: %w", event.ID, err)
	}
	return err
}

func (s *MongoStore) LastAuditEvent(ctx context.Context) (*models.AuditEvent, error) {
	ev, err := findOne[models.AuditEvent](ctx, s.col(colAudit), bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}}))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ev, err
}

func (s *MongoStore) ListAuditEvents(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[models.AuditEvent](ctx, s.col(colAudit), bson.M{}, opts)
}
