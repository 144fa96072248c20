package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

const eventColumns = `backup_id, database_instance, database_name, backup_bucket, backup_prefix,
	storage_location, status, ransomware_detected, ransomware_evidence, database_compromised,
	previous_backup_restored, restored_backup_id, message, requested_by, requested_at,
	created_at, completed_at`

const (
	insertEventSQL = `INSERT INTO backup_events (` + eventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	saveEventSQL = `INSERT INTO backup_events (` + eventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		storage_location = VALUES(storage_location),
		status = VALUES(status),
		ransomware_detected = VALUES(ransomware_detected),
		ransomware_evidence = VALUES(ransomware_evidence),
		database_compromised = VALUES(database_compromised),
		previous_backup_restored = VALUES(previous_backup_restored),
		restored_backup_id = VALUES(restored_backup_id),
		message = VALUES(message),
		completed_at = VALUES(completed_at)`

	selectEventSQL = `SELECT ` + eventColumns + ` FROM backup_events WHERE backup_id = ?`

	completedByDatabaseSQL = `SELECT ` + eventColumns + ` FROM backup_events
	WHERE database_name = ? AND status = 'COMPLETED'
	ORDER BY created_at DESC, backup_id DESC`

	completedBeforeSQL = `SELECT ` + eventColumns + ` FROM backup_events
	WHERE database_name = ? AND status = 'COMPLETED' AND created_at < ?
	ORDER BY created_at DESC, backup_id DESC`

	countRansomwareSQL = `SELECT COUNT(*) FROM backup_events
	WHERE ransomware_detected = 1 AND created_at >= ?`
)

const mysqlDuplicateEntry = 1062

// MySQLHistory stores BackupEvents in the backup_events table
type MySQLHistory struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewMySQLHistory wraps an open connection pool
func NewMySQLHistory(db *sql.DB, logger *logging.Logger) *MySQLHistory {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MySQLHistory{db: db, logger: logger}
}

func eventArgs(e *backup.BackupEvent) []interface{} {
	return []interface{}{
		e.ID,
		e.DatabaseInstance,
		e.DatabaseName,
		nullString(e.BackupBucket),
		nullString(e.BackupPrefix),
		nullString(e.StorageLocation),
		string(e.Status),
		verdictToNull(e.RansomwareDetected),
		nullString(e.RansomwareEvidence),
		verdictToNull(e.DatabaseCompromised),
		e.PreviousBackupRestored,
		nullString(e.RestoredBackupID),
		nullString(e.Message),
		nullString(e.RequestedBy),
		nullTime(e.RequestedAt),
		e.CreatedAt.UTC(),
		nullTimePtr(e.CompletedAt),
	}
}

// Create inserts a new event
func (h *MySQLHistory) Create(ctx context.Context, event *backup.BackupEvent) error {
	if _, err := h.db.ExecContext(ctx, insertEventSQL, eventArgs(event)...); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return backup.NewConflictError("backup event already exists", err).WithContext("backup_id", event.ID)
		}
		return backup.NewDatabaseError("failed to insert backup event", err).WithContext("backup_id", event.ID)
	}
	return nil
}

// Save upserts the full event record
func (h *MySQLHistory) Save(ctx context.Context, event *backup.BackupEvent) error {
	start := time.Now()
	if _, err := h.db.ExecContext(ctx, saveEventSQL, eventArgs(event)...); err != nil {
		return backup.NewDatabaseError("failed to save backup event", err).WithContext("backup_id", event.ID)
	}
	h.logger.WithField("backup_id", event.ID).WithField("duration", time.Since(start).String()).Debug("backup event saved")
	return nil
}

// Get loads one event
func (h *MySQLHistory) Get(ctx context.Context, backupID string) (*backup.BackupEvent, error) {
	e, err := scanEvent(h.db.QueryRowContext(ctx, selectEventSQL, backupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backup.NewNotFoundError("backup event not found", err).WithContext("backup_id", backupID)
		}
		return nil, backup.NewDatabaseError("failed to load backup event", err).WithContext("backup_id", backupID)
	}
	return e, nil
}

// FindCompletedByDatabase returns completed events newest first
func (h *MySQLHistory) FindCompletedByDatabase(ctx context.Context, databaseName string) ([]*backup.BackupEvent, error) {
	return h.query(ctx, completedByDatabaseSQL, databaseName)
}

// FindCompletedBefore returns completed events created before the given time, newest first
func (h *MySQLHistory) FindCompletedBefore(ctx context.Context, databaseName string, before time.Time) ([]*backup.BackupEvent, error) {
	return h.query(ctx, completedBeforeSQL, databaseName, before.UTC())
}

// CountRansomwareSince counts events with a positive ransomware verdict
func (h *MySQLHistory) CountRansomwareSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	if err := h.db.QueryRowContext(ctx, countRansomwareSQL, since.UTC()).Scan(&n); err != nil {
		return 0, backup.NewDatabaseError("failed to count ransomware detections", err)
	}
	return n, nil
}

func (h *MySQLHistory) query(ctx context.Context, query string, args ...interface{}) ([]*backup.BackupEvent, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backup.NewDatabaseError("failed to query backup history", err)
	}
	defer rows.Close()

	var events []*backup.BackupEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, backup.NewDatabaseError("failed to read backup history row", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewDatabaseError("failed to iterate backup history", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*backup.BackupEvent, error) {
	var (
		e                                              backup.BackupEvent
		status                                         string
		bucket, prefix, location, evidence, restoredID sql.NullString
		message, requestedBy                           sql.NullString
		ransomware, compromised                        sql.NullBool
		requestedAt, completedAt                       sql.NullTime
	)

	err := row.Scan(
		&e.ID, &e.DatabaseInstance, &e.DatabaseName, &bucket, &prefix,
		&location, &status, &ransomware, &evidence, &compromised,
		&e.PreviousBackupRestored, &restoredID, &message, &requestedBy, &requestedAt,
		&e.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	e.BackupBucket = bucket.String
	e.BackupPrefix = prefix.String
	e.StorageLocation = location.String
	e.Status = backup.BackupStatus(status)
	e.RansomwareDetected = verdictFromNull(ransomware)
	e.RansomwareEvidence = evidence.String
	e.DatabaseCompromised = verdictFromNull(compromised)
	e.RestoredBackupID = restoredID.String
	e.Message = message.String
	e.RequestedBy = requestedBy.String
	if requestedAt.Valid {
		e.RequestedAt = requestedAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func verdictToNull(v backup.Verdict) sql.NullBool {
	if !v.IsKnown() {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: v.IsTrue(), Valid: true}
}

func verdictFromNull(b sql.NullBool) backup.Verdict {
	if !b.Valid {
		return backup.VerdictUnknown
	}
	return backup.VerdictOf(b.Bool)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}
