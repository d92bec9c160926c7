package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesAreOrdered(t *testing.T) {
	names, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

func TestSchemaCarriesConstraintsTheCodeRelies(t *testing.T) {
	body, err := files.ReadFile("0001_init.sql")
	require.NoError(t, err)
	schema := string(body)

	for _, want := range []string{
		"CONSTRAINT uq_accounts_company_name UNIQUE (company_id, name)",
		"balance     NUMERIC(18,2)",
		"salary_applied  BOOLEAN",
		"uq_transactions_expense",
		"CREATE TABLE IF NOT EXISTS idempotency_keys",
		"UNIQUE (company_id, name)",
		"payroll_period          TEXT NOT NULL",
		"ref_id      BIGINT",
	} {
		assert.Contains(t, schema, want)
	}
}
