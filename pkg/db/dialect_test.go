package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectSelection(t *testing.T) {
	d, err := Dialect(Config{Type: "Postgres", Host: "localhost", Port: "5432", Name: "ledger", SSLMode: "disable"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = Dialect(Config{Type: TypeSQLite, Name: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	for _, typ := range []string{"mysql", "", "oracle"} {
		_, err := Dialect(Config{Type: typ})
		assert.ErrorIs(t, err, ErrUnsupportedDialect, typ)
	}
}
