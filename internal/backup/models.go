package backup

import (
	"time"
)

// BackupStatus is the lifecycle state of a BackupEvent
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "PENDING"
	BackupStatusExporting  BackupStatus = "EXPORTING"
	BackupStatusInspecting BackupStatus = "INSPECTING"
	BackupStatusVerifying  BackupStatus = "VERIFYING"
	BackupStatusCompleted  BackupStatus = "COMPLETED"
	BackupStatusCancelled  BackupStatus = "CANCELLED"
	BackupStatusFailed     BackupStatus = "FAILED"
	// BackupStatusRestored marks a historical backup that was selected to
	// replace a compromised one. Never set on the event being processed.
	BackupStatusRestored BackupStatus = "RESTORED"
)

// IsTerminal reports whether no further transition is allowed out of s
func (s BackupStatus) IsTerminal() bool {
	switch s {
	case BackupStatusCompleted, BackupStatusCancelled, BackupStatusFailed, BackupStatusRestored:
		return true
	}
	return false
}

// Verdict is a tri-state boolean: unknown until a stage decides it
type Verdict string

const (
	VerdictUnknown Verdict = ""
	VerdictFalse   Verdict = "false"
	VerdictTrue    Verdict = "true"
)

// VerdictOf converts a decided boolean into a Verdict
func VerdictOf(b bool) Verdict {
	if b {
		return VerdictTrue
	}
	return VerdictFalse
}

// IsTrue reports a decided positive verdict
func (v Verdict) IsTrue() bool { return v == VerdictTrue }

// IsKnown reports whether the verdict has been decided
func (v Verdict) IsKnown() bool { return v != VerdictUnknown }

// BackupEvent is one run of the response pipeline for a single backup artifact.
// Persisted rows double as backup history for later events on the same database.
type BackupEvent struct {
	ID                     string       `json:"backup_id"`
	DatabaseInstance       string       `json:"database_instance"`
	DatabaseName           string       `json:"database_name"`
	BackupBucket           string       `json:"backup_bucket,omitempty"`
	BackupPrefix           string       `json:"backup_prefix,omitempty"`
	StorageLocation        string       `json:"storage_location,omitempty"`
	Status                 BackupStatus `json:"status"`
	RansomwareDetected     Verdict      `json:"ransomware_detected"`
	RansomwareEvidence     string       `json:"ransomware_evidence,omitempty"`
	DatabaseCompromised    Verdict      `json:"database_compromised"`
	PreviousBackupRestored bool         `json:"previous_backup_restored"`
	RestoredBackupID       string       `json:"restored_backup_id,omitempty"`
	Message                string       `json:"message,omitempty"`
	RequestedBy            string       `json:"requested_by,omitempty"`
	RequestedAt            time.Time    `json:"requested_at"`
	CreatedAt              time.Time    `json:"created_at"`
	CompletedAt            *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine or store
func (e *BackupEvent) Clone() *BackupEvent {
	c := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// AppendEvidence adds a line to the ransomware evidence
func (e *BackupEvent) AppendEvidence(line string) {
	if line == "" {
		return
	}
	if e.RansomwareEvidence == "" {
		e.RansomwareEvidence = line
		return
	}
	e.RansomwareEvidence += "; " + line
}

// BackupRequest is the inbound backup-ready signal
type BackupRequest struct {
	DatabaseInstance string    `json:"databaseInstance"`
	DatabaseName     string    `json:"databaseName"`
	BackupBucket     string    `json:"backupBucket,omitempty"`
	BackupPrefix     string    `json:"backupPrefix,omitempty"`
	BackupLocation   string    `json:"backupLocation,omitempty"`
	RequestedAt      time.Time `json:"requestedAt,omitempty"`
	RequestedBy      string    `json:"requestedBy,omitempty"`
}

// Validate checks the fields every request must carry
func (r *BackupRequest) Validate() error {
	var errs ValidationErrors
	if r.DatabaseInstance == "" {
		errs.Add("databaseInstance", "is required", nil)
	}
	if r.DatabaseName == "" {
		errs.Add("databaseName", "is required", nil)
	}
	if errs.HasErrors() {
		return NewValidationError("invalid backup request", errs)
	}
	return nil
}

// DataCategory classifies a sensitive column
type DataCategory string

const (
	CategoryEmail         DataCategory = "EMAIL"
	CategoryPhone         DataCategory = "PHONE"
	CategoryCreditCard    DataCategory = "CREDIT_CARD"
	CategoryBankAccount   DataCategory = "BANK_ACCOUNT"
	CategorySSN           DataCategory = "SSN"
	CategoryPassport      DataCategory = "PASSPORT"
	CategoryDriverLicense DataCategory = "DRIVER_LICENSE"
	CategoryIPAddress     DataCategory = "IP_ADDRESS"
	CategoryPasswordHash  DataCategory = "PASSWORD_HASH"
	CategoryAPIKey        DataCategory = "API_KEY"
	CategorySecretToken   DataCategory = "SECRET_TOKEN"
	CategoryPersonalName  DataCategory = "PERSONAL_NAME"
	CategoryAddress       DataCategory = "ADDRESS"
	CategoryDateOfBirth   DataCategory = "DATE_OF_BIRTH"
	CategoryFinancialData DataCategory = "FINANCIAL_DATA"
)

var categoryDetectorTypes = map[DataCategory]string{
	CategoryEmail:         "EMAIL_ADDRESS",
	CategoryPhone:         "PHONE_NUMBER",
	CategoryCreditCard:    "CREDIT_CARD_NUMBER",
	CategorySSN:           "US_SOCIAL_SECURITY_NUMBER",
	CategoryPassport:      "PASSPORT",
	CategoryDriverLicense: "US_DRIVERS_LICENSE_NUMBER",
	CategoryIPAddress:     "IP_ADDRESS",
	CategoryDateOfBirth:   "DATE_OF_BIRTH",
	CategoryAddress:       "STREET_ADDRESS",
}

// DefaultDetectorTypes are used when the catalog has no active rules
var DefaultDetectorTypes = []string{"EMAIL_ADDRESS", "CREDIT_CARD_NUMBER", "PHONE_NUMBER"}

// Valid reports whether c is a known category
func (c DataCategory) Valid() bool {
	switch c {
	case CategoryEmail, CategoryPhone, CategoryCreditCard, CategoryBankAccount, CategorySSN,
		CategoryPassport, CategoryDriverLicense, CategoryIPAddress, CategoryPasswordHash,
		CategoryAPIKey, CategorySecretToken, CategoryPersonalName, CategoryAddress,
		CategoryDateOfBirth, CategoryFinancialData:
		return true
	}
	return false
}

// SensitiveFieldRule says which column holds which kind of sensitive data
type SensitiveFieldRule struct {
	ID             int64        `json:"id" yaml:"id"`
	Category       DataCategory `json:"data_type" yaml:"data_type"`
	TableName      string       `json:"table_name" yaml:"table_name"`
	ColumnName     string       `json:"column_name" yaml:"column_name"`
	DetectionQuery string       `json:"detection_query,omitempty" yaml:"detection_query,omitempty"`
	DetectorType   string       `json:"dlp_info_type,omitempty" yaml:"dlp_info_type,omitempty"`
	Description    string       `json:"description,omitempty" yaml:"description,omitempty"`
	Active         bool         `json:"active" yaml:"active"`
}

// ResolveDetectorType returns the explicit detector type or the category default.
// ok is false for categories without a detector mapping.
func (r SensitiveFieldRule) ResolveDetectorType() (string, bool) {
	if r.DetectorType != "" {
		return r.DetectorType, true
	}
	t, ok := categoryDetectorTypes[r.Category]
	return t, ok
}

// ScanRequest asks a content-scan backend to inspect an artifact
type ScanRequest struct {
	Location      string
	DetectorTypes []string
	Rules         []SensitiveFieldRule
}

// ScanState is the state of a content-scan job
type ScanState string

const (
	ScanStatePending  ScanState = "PENDING"
	ScanStateRunning  ScanState = "RUNNING"
	ScanStateDone     ScanState = "DONE"
	ScanStateFailed   ScanState = "FAILED"
	ScanStateCanceled ScanState = "CANCELED"
)

// Finished reports whether polling can stop
func (s ScanState) Finished() bool {
	return s == ScanStateDone || s == ScanStateFailed || s == ScanStateCanceled
}

// Finding is a single hit returned by a content scan
type Finding struct {
	DetectorType string `json:"info_type"`
	Quote        string `json:"quote"`
	Location     string `json:"location,omitempty"`
}

// ScanJob is the polled view of a content-scan job
type ScanJob struct {
	ID       string
	State    ScanState
	Findings []Finding
	Error    string
}

// AlertType identifies what an alert reports
type AlertType string

const (
	AlertRansomwareDetected  AlertType = "RANSOMWARE_DETECTED"
	AlertDataManipulation    AlertType = "DATA_MANIPULATION"
	AlertCompromiseConfirmed AlertType = "COMPROMISE_CONFIRMED"
	AlertNotCompromised      AlertType = "NOT_COMPROMISED"
	AlertBackupClean         AlertType = "BACKUP_CLEAN"
	AlertPipelineFailed      AlertType = "PIPELINE_FAILED"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "INFO"
	AlertSeverityWarning  AlertSeverity = "WARNING"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is the notification shape handed to an AlertSink
type Alert struct {
	ID                  string            `json:"id"`
	Type                AlertType         `json:"type"`
	Severity            AlertSeverity     `json:"severity"`
	BackupID            string            `json:"backup_id"`
	DatabaseName        string            `json:"database_name"`
	RansomwareDetected  bool              `json:"ransomware_detected"`
	DatabaseCompromised bool              `json:"database_compromised"`
	Evidence            string            `json:"evidence,omitempty"`
	Message             string            `json:"message"`
	Timestamp           time.Time         `json:"timestamp"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}
