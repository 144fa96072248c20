package backup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackupErrorFormat(t *testing.T) {
	err := NewNotFoundError("no backup found in storage for database orders", errors.New("empty prefix")).
		WithContext("database", "orders")

	assert.Equal(t, "NOT_FOUND_ERROR: no backup found in storage for database orders (caused by: empty prefix)", err.Error())
	assert.Equal(t, "orders", err.Context["database"])
	assert.Equal(t, "VALIDATION_ERROR: bad input", NewValidationError("bad input", nil).Error())
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryable  bool
		notFound   bool
		conflict   bool
		validation bool
	}{
		{"storage", NewStorageError("read failed", nil), true, false, false, false},
		{"scan", NewScanError("job failed", nil), true, false, false, false},
		{"database wrapped", fmt.Errorf("create event: %w", NewDatabaseError("insert failed", nil)), true, false, false, false},
		{"not found", NewNotFoundError("missing", nil), false, true, false, false},
		{"conflict", NewConflictError("exists", nil), false, false, true, false},
		{"validation", NewValidationError("bad", nil), false, false, false, true},
		{"configuration", NewConfigurationError("disabled", nil), false, false, false, false},
		{"plain", errors.New("boom"), false, false, false, false},
		{"nil", nil, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
			assert.Equal(t, tt.validation, IsValidation(tt.err))
		})
	}
}
