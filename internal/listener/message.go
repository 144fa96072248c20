package listener

import (
	"bytes"
	"encoding/json"
	"time"

	"backup-sentinel/internal/backup"
)

// Message is one delivery from a MessageSource
type Message struct {
	ID          string
	AckID       string
	Data        []byte
	PublishTime time.Time
}

// ParseRequest decodes a backup-ready payload. Unknown fields are rejected
// so that malformed producers are noticed. A missing requestedAt defaults to
// receivedAt.
func ParseRequest(data []byte, receivedAt time.Time) (backup.BackupRequest, error) {
	var req backup.BackupRequest
	if len(bytes.TrimSpace(data)) == 0 {
		return req, backup.NewValidationError("empty message payload", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, backup.NewValidationError("malformed message payload", err)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = receivedAt
	}
	return req, nil
}
