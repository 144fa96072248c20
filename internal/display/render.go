package display

import (
	"fmt"
	"io"
	"time"

	"backup-sentinel/internal/backup"
)

// Printer renders pipeline results for a terminal or a pipe
type Printer struct {
	out    io.Writer
	colors ColorSystem
}

// NewPrinter creates a printer; a nil ColorSystem prints plain text
func NewPrinter(out io.Writer, colors ColorSystem) *Printer {
	if colors == nil {
		colors = NewPlainColorSystem()
	}
	return &Printer{out: out, colors: colors}
}

// StatusColor picks the theme color for a status
func (p *Printer) StatusColor(status backup.BackupStatus) Color {
	theme := p.colors.Theme()
	switch status {
	case backup.BackupStatusCompleted, backup.BackupStatusRestored:
		return theme.Success
	case backup.BackupStatusCancelled:
		return theme.Warning
	case backup.BackupStatusFailed:
		return theme.Error
	}
	return theme.Primary
}

func (p *Printer) verdict(v backup.Verdict) string {
	theme := p.colors.Theme()
	switch v {
	case backup.VerdictTrue:
		return p.colors.Sprint(theme.Error, "yes")
	case backup.VerdictFalse:
		return p.colors.Sprint(theme.Success, "no")
	}
	return p.colors.Sprint(theme.Muted, "unknown")
}

// Event prints one backup event as a block of labelled fields
func (p *Printer) Event(e *backup.BackupEvent, duplicate bool) {
	if e == nil {
		fmt.Fprintln(p.out, p.colors.Sprint(p.colors.Theme().Warning, "duplicate request, already processed today"))
		return
	}
	if duplicate {
		fmt.Fprintln(p.out, p.colors.Sprint(p.colors.Theme().Warning, "duplicate request, showing the recorded event"))
	}

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(p.out, "%-22s %s\n", label+":", value)
		}
	}
	field("Backup ID", e.ID)
	field("Database", e.DatabaseInstance+"/"+e.DatabaseName)
	field("Location", e.StorageLocation)
	field("Status", p.colors.Sprint(p.StatusColor(e.Status), string(e.Status)))
	field("Ransomware detected", p.verdict(e.RansomwareDetected))
	field("Evidence", e.RansomwareEvidence)
	field("Database compromised", p.verdict(e.DatabaseCompromised))
	if e.PreviousBackupRestored {
		field("Restored backup", e.RestoredBackupID)
	}
	field("Message", e.Message)
	field("Created", e.CreatedAt.Format(time.RFC3339))
	if e.CompletedAt != nil {
		field("Completed", e.CompletedAt.Format(time.RFC3339))
	}
}

// History prints events as a table, newest first as given
func (p *Printer) History(events []*backup.BackupEvent) {
	if len(events) == 0 {
		fmt.Fprintln(p.out, "No backups found.")
		return
	}

	t := NewTable("ID", "Database", "Created", "Status", "Ransomware", "Compromised", "Location")
	if _, ok := p.out.(interface{ Fd() uintptr }); !ok {
		t.SetMaxWidth(0)
	}
	for _, e := range events {
		t.AddRow(e.ID, e.DatabaseName, e.CreatedAt.Format("2006-01-02 15:04:05"), string(e.Status),
			verdictText(e.RansomwareDetected), verdictText(e.DatabaseCompromised), e.StorageLocation)
	}
	t.RenderTo(p.out)
	fmt.Fprintf(p.out, "Total backups: %d\n", len(events))
}

// Detections prints the ransomware count since a point in time
func (p *Printer) Detections(count int64, since time.Time) {
	c := p.colors.Theme().Success
	if count > 0 {
		c = p.colors.Theme().Error
	}
	fmt.Fprintf(p.out, "Ransomware detections since %s: %s\n", since.Format(time.RFC3339), p.colors.Sprintf(c, "%d", count))
}

func verdictText(v backup.Verdict) string {
	if v == backup.VerdictUnknown {
		return "-"
	}
	return string(v)
}

// Rules prints sensitive-field rules as a table
func (p *Printer) Rules(rules []backup.SensitiveFieldRule) {
	if len(rules) == 0 {
		fmt.Fprintln(p.out, "No catalog rules found.")
		return
	}

	t := NewTable("ID", "Table", "Column", "Category", "Detector", "Active")
	if _, ok := p.out.(interface{ Fd() uintptr }); !ok {
		t.SetMaxWidth(0)
	}
	for _, r := range rules {
		detector, _ := r.ResolveDetectorType()
		t.AddRow(fmt.Sprint(r.ID), r.TableName, r.ColumnName, string(r.Category), detector, fmt.Sprint(r.Active))
	}
	t.RenderTo(p.out)
	fmt.Fprintf(p.out, "Total rules: %d\n", len(rules))
}
