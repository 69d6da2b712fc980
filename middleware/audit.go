package middleware

import (
	"github.com/gin-gonic/gin"
)

// AuditRecorder is satisfied by services.AuditLogger.
type AuditRecorder interface {
	Record(userID, action, resourceID, requestID string, metadata map[string]string)
}

const (
	auditResourceKey = "audit_resource_id"
	auditMetadataKey = "audit_metadata"
)

// SetAuditResource lets a handler name the resource the audit event is about.
func SetAuditResource(c *gin.Context, resourceID string, metadata map[string]string) {
	c.Set(auditResourceKey, resourceID)
	if metadata != nil {
		c.Set(auditMetadataKey, metadata)
	}
}

// Audit records action after a successful response. Failed requests are not
// audited.
func Audit(recorder AuditRecorder, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if recorder == nil || c.Writer.Status() >= 400 {
			return
		}

		resourceID := c.GetString(auditResourceKey)
		var metadata map[string]string
		if v, ok := c.Get(auditMetadataKey); ok {
			metadata, _ = v.(map[string]string)
		}
		if resourceID == "" {
			resourceID = c.Param("id")
		}
		recorder.Record(GetUserID(c), action, resourceID, GetRequestID(c), metadata)
	}
}
