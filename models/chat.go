package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation. Append-only; the prompt
// window is trimmed at read time, never in storage.
type Message struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID   string             `bson:"tenant_id" json:"tenant_id"`
	WidgetID   string             `bson:"widget_id" json:"widget_id"`
	SessionID  string             `bson:"session_id" json:"session_id"`
	Role       string             `bson:"role" json:"role"`
	Content    string             `bson:"content" json:"content"`
	Sources    []SourceReference  `bson:"sources,omitempty" json:"sources,omitempty"`
	PIIWarning bool               `bson:"pii_warning,omitempty" json:"pii_warning,omitempty"`
	Timestamp  time.Time          `bson:"timestamp" json:"timestamp"`
}

// SourceReference ties an answer back to the chunk that grounded it.
type SourceReference struct {
	DocumentID string  `bson:"document_id" json:"document_id"`
	ChunkID    string  `bson:"chunk_id" json:"chunk_id"`
	Ordinal    int     `bson:"ordinal" json:"ordinal"`
	Page       int     `bson:"page,omitempty" json:"page,omitempty"`
	Score      float64 `bson:"score" json:"score"`
	Snippet    string  `bson:"snippet" json:"snippet"`
}

// ChatRequest is the body of both the blocking and streaming chat
// endpoints.
type ChatRequest struct {
	Message     string   `json:"message" binding:"required,min=1,max=4000"`
	SessionID   string   `json:"session_id,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// ChatResponse is the blocking response shape; the streaming endpoint
// delivers the same payload in its final event.
type ChatResponse struct {
	Message    string            `json:"message"`
	Sources    []SourceReference `json:"sources"`
	SessionID  string            `json:"session_id"`
	Language   string            `json:"language"`
	PIIWarning bool              `json:"pii_warning"`
	Timestamp  time.Time         `json:"timestamp"`
}

// StreamEvent is one SSE event of the streaming chat endpoint. Delta
// events carry ordered partial content; the terminal done event carries
// the complete ChatResponse.
type StreamEvent struct {
	Type     string        `json:"type"` // delta | done | error
	Content  string        `json:"content,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Feedback records end-user polarity on one assistant message. Keyed by
// message id; a later write overwrites an earlier one.
type Feedback struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID  string             `bson:"tenant_id" json:"tenant_id"`
	MessageID string             `bson:"message_id" json:"message_id"`
	SessionID string             `bson:"session_id" json:"session_id"`
	Polarity  string             `bson:"polarity" json:"polarity"` // positive | negative
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

// FeedbackRequest is the feedback endpoint body.
type FeedbackRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	Polarity  string `json:"polarity" binding:"required,oneof=positive negative"`
}
