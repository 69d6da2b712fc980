package models

import "time"

type ChatSession struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Title     string    `bson:"title" json:"title"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID        string     `bson:"_id" json:"id"`
	SessionID string     `bson:"session_id" json:"session_id"`
	Role      string     `bson:"role" json:"role"`
	Content   string     `bson:"content" json:"content"`
	Citations []Citation `bson:"citations,omitempty" json:"citations,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
}

// Citation points from an answer back to a retrieved chunk.
type Citation struct {
	Index       int     `bson:"index" json:"index"` // bracket number used in the prompt
	ChunkID     string  `bson:"chunk_id" json:"chunk_id"`
	DocumentID  string  `bson:"document_id" json:"document_id"`
	Title       string  `bson:"title" json:"title"`
	PageOrSlide string  `bson:"page_or_slide" json:"page_or_slide"`
	Snippet     string  `bson:"snippet" json:"snippet"`
	Score       float64 `bson:"score" json:"score"`
}
