package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	encoded := Encode(4217)
	assert.NotEmpty(t, encoded)

	id, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(4217), id)
}

func TestDecode_Empty(t *testing.T) {
	id, err := Decode("")
	assert.NoError(t, err)
	assert.Zero(t, id)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cursor")
}

func TestDecode_MalformedPayload(t *testing.T) {
	// Valid base64 but not a positive integer
	_, err := Decode("bm9waXBl") // "nopipe"
	assert.Error(t, err)
}

func TestComputePage_NoMore(t *testing.T) {
	items := []int64{10, 9, 8}
	result, cursor, hasMore := ComputePage(items, 5, func(id int64) int64 { return id })
	assert.Equal(t, 3, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	items := []int64{10, 9, 8, 7}
	result, cursor, hasMore := ComputePage(items, 3, func(id int64) int64 { return id })
	assert.Equal(t, 3, len(result))
	assert.NotEmpty(t, cursor)
	assert.True(t, hasMore)

	// Verify cursor decodes to the last item
	id, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []int64{10, 9, 8}
	result, cursor, hasMore := ComputePage(items, 3, func(id int64) int64 { return id })
	assert.Equal(t, 3, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
