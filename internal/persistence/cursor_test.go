package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wbgt/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC), ID: "000000000042"}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.True(t, in.Timestamp.Equal(out.Timestamp))
	require.Equal(t, in.ID, out.ID)
}

func TestDecodeEmptyCursor(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, EncodeCursor(nil))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm9waXBl", "bm90LWEtdGltZXxpZA"} {
		_, err := DecodeCursor(token)
		require.ErrorIs(t, err, domain.ErrInvalidArgument, token)
	}
}
