package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMapValueScan(t *testing.T) {
	src := JSONMap{"order_id": "abc", "attempt": float64(2)}
	raw, err := src.Value()
	require.NoError(t, err)

	var dst JSONMap
	require.NoError(t, dst.Scan(raw))
	assert.Equal(t, "abc", dst.String("order_id"))
	assert.Equal(t, float64(2), dst["attempt"])
	assert.Equal(t, "", dst.String("attempt"))
}

func TestJSONMapScanNil(t *testing.T) {
	dst := JSONMap{"x": "y"}
	require.NoError(t, dst.Scan(nil))
	assert.Nil(t, dst)

	require.Error(t, dst.Scan(42))
}
