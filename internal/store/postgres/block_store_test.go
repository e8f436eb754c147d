package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

func TestLatestBlockNumberEmptyTable(t *testing.T) {
	_, err := latestBlockNumber(nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestBlockNumberGenesisEntry(t *testing.T) {
	n := int64(0)
	got, err := latestBlockNumber(&n)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
}

func TestLatestBlockNumberHighestIngested(t *testing.T) {
	n := int64(18_000_000)
	got, err := latestBlockNumber(&n)
	require.NoError(t, err)
	assert.Equal(t, uint64(18_000_000), got)
}
