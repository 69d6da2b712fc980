package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Audit actions
const (
	AuditDocUpload       = "DOC_UPLOAD"
	AuditDocReindex      = "DOC_REINDEX"
	AuditDocDelete       = "DOC_DELETE"
	AuditChatQuery       = "CHAT_QUERY"
	AuditProvidersUpdate = "PROVIDERS_UPDATE"
	AuditPreferenceSet   = "PROVIDER_PREFERENCE_UPDATE"
)

// AuditEvent represents an immutable audit log entry. Events form a hash
// chain: each one stores the hash of the event written before it.
type AuditEvent struct {
	ID           string            `bson:"_id" json:"id"`
	Sequence     int64             `bson:"sequence" json:"sequence"`
	UserID       string            `bson:"user_id" json:"user_id"`
	Action       string            `bson:"action" json:"action"`
	ResourceID   string            `bson:"resource_id,omitempty" json:"resource_id,omitempty"`
	RequestID    string            `bson:"request_id,omitempty" json:"request_id,omitempty"`
	Metadata     map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	PreviousHash string            `bson:"previous_hash" json:"previous_hash"`
	CurrentHash  string            `bson:"current_hash" json:"current_hash"`
	CreatedAt    time.Time         `bson:"created_at" json:"created_at"`
}

// ComputeHash computes the hash of this audit event
func (e *AuditEvent) ComputeHash() string {
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var meta strings.Builder
	for _, k := range keys {
		meta.WriteString(k)
		meta.WriteByte('=')
		meta.WriteString(e.Metadata[k])
		meta.WriteByte(';')
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		e.Sequence,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.UserID,
		e.Action,
		e.ResourceID,
		meta.String(),
		e.PreviousHash,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
