package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	at := time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC)

	got, err := Number(DefaultNumberTemplate, at, 42)
	require.NoError(t, err)
	assert.Equal(t, "DRAFT-202504-00042", got)

	got, err = Number("{YY}{DD}-{SEQ}", at, 7)
	require.NoError(t, err)
	assert.Equal(t, "2509-7", got)

	_, err = Number("", at, 1)
	assert.Error(t, err)
	_, err = Number("INV-{SEQ3}", at, 0)
	assert.Error(t, err)
	_, err = Number("INV-{NOPE}", at, 1)
	assert.Error(t, err)
}
