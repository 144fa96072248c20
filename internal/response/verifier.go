package response

import (
	"context"
	"fmt"
	"time"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

// DefaultMinBackupInterval is the shortest normal gap between two backups
const DefaultMinBackupInterval = time.Hour

// Verification is the compromise verdict for the live database
type Verification struct {
	Compromised bool
	Reasons     []string
	// Err is set when the verdict was forced by a verification failure
	Err error
}

// Verifier decides whether the live database, not just its backup, has been
// tampered with. Errors resolve to compromised.
type Verifier struct {
	history     backup.HistoryStore
	minInterval time.Duration
	logger      *logging.Logger
}

// NewVerifier creates a verifier; minInterval <= 0 uses one hour
func NewVerifier(history backup.HistoryStore, minInterval time.Duration, logger *logging.Logger) *Verifier {
	if minInterval <= 0 {
		minInterval = DefaultMinBackupInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Verifier{history: history, minInterval: minInterval, logger: logger}
}

// Verify compares the backup taken at backupTime with the newest completed
// backup of the same database. CANCELLED and RESTORED backups are skipped.
func (v *Verifier) Verify(ctx context.Context, databaseName string, backupTime time.Time) (res Verification) {
	defer func() {
		if r := recover(); r != nil {
			res = v.failClosed(databaseName, fmt.Errorf("panic: %v", r))
		}
	}()

	previous, err := v.history.FindCompletedByDatabase(ctx, databaseName)
	if err != nil {
		return v.failClosed(databaseName, err)
	}
	if len(previous) == 0 {
		v.logger.WithField("database", databaseName).Info("no prior backups, cannot conclude compromise")
		return Verification{}
	}

	last := previous[0]
	if gap := backupTime.Sub(last.CreatedAt); gap < v.minInterval {
		res.Reasons = append(res.Reasons, fmt.Sprintf("backup taken %s after previous backup %s", gap.Round(time.Second), last.ID))
	}
	if last.RansomwareDetected.IsTrue() {
		res.Reasons = append(res.Reasons, fmt.Sprintf("previous backup %s also contained ransomware", last.ID))
	}

	res.Compromised = len(res.Reasons) > 0
	return res
}

func (v *Verifier) failClosed(databaseName string, err error) Verification {
	v.logger.WithField("database", databaseName).Errorf("compromise verification failed, assuming compromised: %v", err)
	return Verification{
		Compromised: true,
		Reasons:     []string{"verification error: " + err.Error()},
		Err:         err,
	}
}
