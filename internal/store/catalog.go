package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"backup-sentinel/internal/backup"
)

const ruleColumns = `id, data_type, table_name, column_name, detection_query, dlp_info_type, description, active`

// MySQLCatalog reads sensitive field rules from sensitive_data_models
type MySQLCatalog struct {
	db *sql.DB
}

// NewMySQLCatalog wraps an open connection pool
func NewMySQLCatalog(db *sql.DB) *MySQLCatalog {
	return &MySQLCatalog{db: db}
}

// ActiveRules returns every active rule
func (c *MySQLCatalog) ActiveRules(ctx context.Context) ([]backup.SensitiveFieldRule, error) {
	return c.query(ctx, `SELECT `+ruleColumns+` FROM sensitive_data_models WHERE active = 1 ORDER BY id`)
}

// RulesByCategory returns rules of one category
func (c *MySQLCatalog) RulesByCategory(ctx context.Context, category backup.DataCategory) ([]backup.SensitiveFieldRule, error) {
	return c.query(ctx, `SELECT `+ruleColumns+` FROM sensitive_data_models WHERE data_type = ? ORDER BY id`, string(category))
}

// RulesByTable returns rules for one table
func (c *MySQLCatalog) RulesByTable(ctx context.Context, table string) ([]backup.SensitiveFieldRule, error) {
	return c.query(ctx, `SELECT `+ruleColumns+` FROM sensitive_data_models WHERE table_name = ? ORDER BY id`, table)
}

func (c *MySQLCatalog) query(ctx context.Context, query string, args ...interface{}) ([]backup.SensitiveFieldRule, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backup.NewDatabaseError("failed to query sensitive data catalog", err)
	}
	defer rows.Close()

	var rules []backup.SensitiveFieldRule
	for rows.Next() {
		var (
			r                            backup.SensitiveFieldRule
			category                     string
			detection, infoType, details sql.NullString
		)
		if err := rows.Scan(&r.ID, &category, &r.TableName, &r.ColumnName, &detection, &infoType, &details, &r.Active); err != nil {
			return nil, backup.NewDatabaseError("failed to read sensitive data rule", err)
		}
		r.Category = backup.DataCategory(category)
		r.DetectionQuery = detection.String
		r.DetectorType = infoType.String
		r.Description = details.String
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, backup.NewDatabaseError("failed to iterate sensitive data catalog", err)
	}
	return rules, nil
}

type catalogFile struct {
	Rules []backup.SensitiveFieldRule `yaml:"rules"`
}

// FileCatalog is a SensitiveCatalog loaded once from a YAML file
type FileCatalog struct {
	rules []backup.SensitiveFieldRule
}

// LoadFileCatalog parses the YAML rules file at path
func LoadFileCatalog(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, backup.NewConfigurationError(fmt.Sprintf("failed to read catalog file %s", path), err)
	}
	return ParseFileCatalog(data)
}

// ParseFileCatalog parses YAML catalog content
func ParseFileCatalog(data []byte) (*FileCatalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, backup.NewConfigurationError("failed to parse catalog file", err)
	}

	var errs backup.ValidationErrors
	for i := range f.Rules {
		r := &f.Rules[i]
		r.Category = backup.DataCategory(strings.ToUpper(string(r.Category)))
		if !r.Category.Valid() {
			errs.Add(fmt.Sprintf("rules[%d].data_type", i), "unknown category", r.Category)
		}
		if r.TableName == "" || r.ColumnName == "" {
			errs.Add(fmt.Sprintf("rules[%d]", i), "table_name and column_name are required", nil)
		}
		if r.ID == 0 {
			r.ID = int64(i + 1)
		}
	}
	if errs.HasErrors() {
		return nil, backup.NewValidationError("invalid catalog file", errs)
	}
	return &FileCatalog{rules: f.Rules}, nil
}

// ActiveRules returns every active rule
func (c *FileCatalog) ActiveRules(ctx context.Context) ([]backup.SensitiveFieldRule, error) {
	return c.filter(func(r backup.SensitiveFieldRule) bool { return r.Active }), nil
}

// RulesByCategory returns rules of one category
func (c *FileCatalog) RulesByCategory(ctx context.Context, category backup.DataCategory) ([]backup.SensitiveFieldRule, error) {
	return c.filter(func(r backup.SensitiveFieldRule) bool { return r.Category == category }), nil
}

// RulesByTable returns rules for one table
func (c *FileCatalog) RulesByTable(ctx context.Context, table string) ([]backup.SensitiveFieldRule, error) {
	return c.filter(func(r backup.SensitiveFieldRule) bool { return strings.EqualFold(r.TableName, table) }), nil
}

func (c *FileCatalog) filter(keep func(backup.SensitiveFieldRule) bool) []backup.SensitiveFieldRule {
	var out []backup.SensitiveFieldRule
	for _, r := range c.rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
