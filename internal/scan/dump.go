package scan

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/logging"
)

var (
	createTablePattern = regexp.MustCompile("(?is)CREATE\\s+TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?`?([A-Za-z0-9_$]+)`?\\s*\\((.*?)\\)\\s*(?:ENGINE|;)")
	insertPattern      = regexp.MustCompile("(?is)INSERT\\s+(?:IGNORE\\s+)?INTO\\s+`?([A-Za-z0-9_$]+)`?\\s*(\\([^)]*\\))?\\s*VALUES\\s*")
)

// DumpBackend reads catalogued column values straight out of a SQL dump
// sample. It needs no cloud access, so the value-level encryption test can
// run against any artifact store.
type DumpBackend struct {
	artifacts   backup.ArtifactStore
	sampleBytes int64
	maxFindings int
	registry    *jobRegistry
	logger      *logging.Logger
}

// NewDumpBackend creates an in-process dump scanner
func NewDumpBackend(cfg Config, artifacts backup.ArtifactStore, logger *logging.Logger) *DumpBackend {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg.SetDefaults()
	return &DumpBackend{
		artifacts:   artifacts,
		sampleBytes: cfg.SampleBytes,
		maxFindings: int(cfg.MaxFindings),
		registry:    newJobRegistry(cfg.JobTimeout),
		logger:      logger,
	}
}

func (b *DumpBackend) Enabled() bool { return b != nil && b.artifacts != nil }

// Submit starts extracting the columns named by req.Rules
func (b *DumpBackend) Submit(ctx context.Context, req backup.ScanRequest) (string, error) {
	if req.Location == "" {
		return "", backup.NewValidationError("scan location is required", nil)
	}
	id, err := b.registry.start(func(ctx context.Context) ([]backup.Finding, error) {
		sample, err := backup.ReadSample(ctx, b.artifacts, req.Location, b.sampleBytes)
		if err != nil {
			return nil, err
		}
		return ExtractFindings(string(sample), req.Rules, b.maxFindings), nil
	})
	if err != nil {
		return "", err
	}
	b.logger.WithField("job_id", id).WithField("location", req.Location).
		WithField("rules", len(req.Rules)).Debug("dump scan submitted")
	return id, nil
}

func (b *DumpBackend) Poll(ctx context.Context, jobID string) (*backup.ScanJob, error) {
	return b.registry.get(jobID)
}

func (b *DumpBackend) Close() error {
	b.registry.close()
	return nil
}

type columnRef struct {
	table  string
	column string
}

type target struct {
	index    int
	detector string
}

// ExtractFindings returns the values of active rule columns found in INSERT
// statements of the dump text, up to limit findings (limit <= 0 means no
// limit). Column positions come from the INSERT column list or, failing that,
// from the matching CREATE TABLE.
func ExtractFindings(dump string, rules []backup.SensitiveFieldRule, limit int) []backup.Finding {
	wanted := make(map[columnRef]string)
	for _, r := range rules {
		if !r.Active {
			continue
		}
		detector, ok := r.ResolveDetectorType()
		if !ok {
			detector = string(r.Category)
		}
		wanted[columnRef{strings.ToLower(r.TableName), strings.ToLower(r.ColumnName)}] = detector
	}
	if len(wanted) == 0 {
		return nil
	}

	schemas := make(map[string][]string)
	for _, m := range createTablePattern.FindAllStringSubmatch(dump, -1) {
		schemas[strings.ToLower(m[1])] = parseColumnDefinitions(m[2])
	}

	var findings []backup.Finding
	for _, loc := range insertPattern.FindAllStringSubmatchIndex(dump, -1) {
		table := strings.ToLower(dump[loc[2]:loc[3]])
		columns := schemas[table]
		if loc[4] >= 0 {
			columns = parseColumnList(dump[loc[4]:loc[5]])
		}

		var targets []target
		for i, c := range columns {
			if detector, ok := wanted[columnRef{table, strings.ToLower(c)}]; ok {
				targets = append(targets, target{index: i, detector: detector})
			}
		}
		if len(targets) == 0 {
			continue
		}

		for row, tuple := range parseTuples(dump[loc[1]:]) {
			for _, t := range targets {
				if t.index >= len(tuple) || tuple[t.index] == nil {
					continue
				}
				findings = append(findings, backup.Finding{
					DetectorType: t.detector,
					Quote:        *tuple[t.index],
					Location:     fmt.Sprintf("%s.%s row %d", table, columns[t.index], row+1),
				})
				if limit > 0 && len(findings) >= limit {
					return findings
				}
			}
		}
	}
	return findings
}

func parseColumnDefinitions(body string) []string {
	var columns []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "`") {
			continue
		}
		if end := strings.Index(line[1:], "`"); end > 0 {
			columns = append(columns, line[1:end+1])
		}
	}
	return columns
}

func parseColumnList(list string) []string {
	list = strings.Trim(list, "()")
	parts := strings.Split(list, ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		columns = append(columns, strings.Trim(strings.TrimSpace(p), "`"))
	}
	return columns
}

// parseTuples reads "(v, ...), (v, ...);" until the statement ends or the
// text runs out. NULL becomes a nil entry. A truncated trailing tuple is
// dropped.
func parseTuples(s string) [][]*string {
	var tuples [][]*string
	i := 0
	for {
		i = skipSpace(s, i)
		if i >= len(s) || s[i] != '(' {
			return tuples
		}
		tuple, next, ok := parseTuple(s, i+1)
		if !ok {
			return tuples
		}
		tuples = append(tuples, tuple)
		i = skipSpace(s, next)
		if i >= len(s) || s[i] != ',' {
			return tuples
		}
		i++
	}
}

func parseTuple(s string, i int) ([]*string, int, bool) {
	var values []*string
	for {
		i = skipSpace(s, i)
		if i >= len(s) {
			return nil, i, false
		}

		var value *string
		if s[i] == '\'' {
			v, next, ok := parseQuoted(s, i+1)
			if !ok {
				return nil, next, false
			}
			value, i = &v, next
		} else {
			start := i
			for i < len(s) && s[i] != ',' && s[i] != ')' {
				i++
			}
			raw := strings.TrimSpace(s[start:i])
			if !strings.EqualFold(raw, "NULL") {
				value = &raw
			}
		}
		values = append(values, value)

		i = skipSpace(s, i)
		if i >= len(s) {
			return nil, i, false
		}
		switch s[i] {
		case ',':
			i++
		case ')':
			return values, i + 1, true
		default:
			return nil, i, false
		}
	}
}

func parseQuoted(s string, i int) (string, int, bool) {
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			b.WriteByte(unescape(s[i+1]))
			i += 2
		case c == '\'' && i+1 < len(s) && s[i+1] == '\'':
			b.WriteByte('\'')
			i += 2
		case c == '\'':
			return b.String(), i + 1, true
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", i, false
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case '0':
		return 0
	case 'Z':
		return 0x1a
	}
	return c
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\r' || s[i] == '\t') {
		i++
	}
	return i
}
