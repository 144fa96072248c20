package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-sentinel/internal/backup"
)

var catalogColumns = []string{"id", "data_type", "table_name", "column_name", "detection_query", "dlp_info_type", "description", "active"}

func TestMySQLCatalogActiveRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM sensitive_data_models WHERE active = 1").
		WillReturnRows(sqlmock.NewRows(catalogColumns).
			AddRow(int64(1), "EMAIL", "customers", "email", nil, "EMAIL_ADDRESS", "contact", int64(1)).
			AddRow(int64(2), "BANK_ACCOUNT", "bank_accounts", "account_number", "SELECT 1", nil, nil, int64(1)))

	rules, err := NewMySQLCatalog(db).ActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, backup.CategoryEmail, rules[0].Category)
	assert.Equal(t, "EMAIL_ADDRESS", rules[0].DetectorType)
	assert.True(t, rules[0].Active)
	assert.Equal(t, "SELECT 1", rules[1].DetectionQuery)
	assert.Empty(t, rules[1].DetectorType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalogByCategoryAndTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	catalog := NewMySQLCatalog(db)

	mock.ExpectQuery("WHERE data_type = ?").WithArgs("SSN").
		WillReturnRows(sqlmock.NewRows(catalogColumns))
	mock.ExpectQuery("WHERE table_name = ?").WithArgs("customers").
		WillReturnRows(sqlmock.NewRows(catalogColumns).
			AddRow(int64(3), "PHONE", "customers", "phone", nil, nil, nil, int64(0)))

	rules, err := catalog.RulesByCategory(context.Background(), backup.CategorySSN)
	require.NoError(t, err)
	assert.Empty(t, rules)

	rules, err = catalog.RulesByTable(context.Background(), "customers")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const sampleCatalog = `
rules:
  - data_type: email
    table_name: customers
    column_name: email
    active: true
  - data_type: CREDIT_CARD
    table_name: payments
    column_name: card_number
    dlp_info_type: CREDIT_CARD_NUMBER
    active: true
  - data_type: PHONE
    table_name: Customers
    column_name: phone
    active: false
`

func TestFileCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	catalog, err := LoadFileCatalog(path)
	require.NoError(t, err)
	ctx := context.Background()

	active, _ := catalog.ActiveRules(ctx)
	require.Len(t, active, 2)
	assert.Equal(t, backup.CategoryEmail, active[0].Category)
	assert.Equal(t, int64(1), active[0].ID)

	byTable, _ := catalog.RulesByTable(ctx, "customers")
	assert.Len(t, byTable, 2)

	byCategory, _ := catalog.RulesByCategory(ctx, backup.CategoryCreditCard)
	assert.Len(t, byCategory, 1)
}

func TestFileCatalogRejectsUnknownCategory(t *testing.T) {
	_, err := ParseFileCatalog([]byte("rules:\n  - data_type: SHOE_SIZE\n    table_name: t\n    column_name: c\n"))
	assert.True(t, backup.IsValidation(err))

	_, err = ParseFileCatalog([]byte("rules: [unclosed"))
	assert.Error(t, err)

	_, err = LoadFileCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
