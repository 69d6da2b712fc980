package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rag-knowledge-platform/internal/database"
	"rag-knowledge-platform/models"
)

const sessionTitleChars = 60

// ChatService keeps question/answer history around the query pipeline.
type ChatService struct {
	store  database.ChatStore
	query  *QueryService
	logger *slog.Logger
}

func NewChatService(store database.ChatStore, query *QueryService, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{store: store, query: query, logger: logger}
}

type ChatRequest struct {
	Question    string   `json:"question"`
	SessionID   string   `json:"session_id,omitempty"`
	DocumentIDs []string `json:"doc_ids,omitempty"`
}

type ChatResponse struct {
	SessionID string `json:"session_id"`
	QueryResult
}

// Ask answers a question inside a session, creating one when SessionID is
// empty. The assistant message is only stored for successful answers.
// Cancelling ctx does not abort the answer; provider and store calls are
// bounded by their own timeouts.
func (s *ChatService) Ask(ctx context.Context, userID string, req ChatRequest) (*ChatResponse, error) {
	ctx = context.WithoutCancel(ctx)

	question := NormalizeQuestion(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}

	session, err := s.session(ctx, userID, req.SessionID, question)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.AddMessage(ctx, &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   question,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("store question: %w", err)
	}

	result, err := s.query.Answer(ctx, QueryRequest{UserID: userID, Question: question, DocumentIDs: req.DocumentIDs})
	if err != nil {
		return nil, err
	}

	answeredAt := time.Now().UTC()
	if err := s.store.AddMessage(ctx, &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   result.Answer,
		Citations: result.Citations,
		CreatedAt: answeredAt,
	}); err != nil {
		s.logger.Error("Failed to store answer", "session_id", session.ID, "error", err)
	}
	if err := s.store.TouchSession(ctx, session.ID, answeredAt); err != nil {
		s.logger.Warn("Failed to touch chat session", "session_id", session.ID, "error", err)
	}

	return &ChatResponse{SessionID: session.ID, QueryResult: *result}, nil
}

func (s *ChatService) session(ctx context.Context, userID, sessionID, question string) (*models.ChatSession, error) {
	if sessionID != "" {
		return s.ownedSession(ctx, userID, sessionID)
	}
	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     truncateRunes(question, sessionTitleChars),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	return session, nil
}

func (s *ChatService) ownedSession(ctx context.Context, userID, sessionID string) (*models.ChatSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && session.UserID != userID) {
		return nil, fmt.Errorf("%w: chat session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	return session, nil
}

// History returns a session's messages, oldest first.
func (s *ChatService) History(ctx context.Context, userID, sessionID string) ([]models.ChatMessage, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID)
}
