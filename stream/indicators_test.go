package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketflow/tvstream/types"
)

func TestResolveIndicator(t *testing.T) {
	anon := types.Credentials{}
	authed := types.Credentials{SessionID: "sid", SessionSign: "sign"}

	t.Run("short names map to wire ids", func(t *testing.T) {
		ref, err := resolveIndicator("rsi", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;RSI", ref.ID)
		require.Equal(t, "RSI", ref.Display)

		ref, err = resolveIndicator("MACD", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;MACD", ref.ID)
	})

	t.Run("aliases share identity with their target", func(t *testing.T) {
		bb, err := resolveIndicator("BOLLINGER", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;BB", bb.ID)
		require.Equal(t, "BB", bb.Display)

		stoch, err := resolveIndicator("stoch", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;Stochastic", stoch.ID)
		require.Equal(t, "STOCHASTIC", stoch.Display)
	})

	t.Run("mixed-case wire ids survive", func(t *testing.T) {
		ref, err := resolveIndicator("stochastic", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;Stochastic", ref.ID)

		ref, err = resolveIndicator("williams", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;Williams%25R", ref.ID)
	})

	t.Run("namespaced ids pass verbatim", func(t *testing.T) {
		ref, err := resolveIndicator("STD;Connors%RSI", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;Connors%RSI", ref.ID)
		require.Equal(t, "CONNORS%RSI", ref.Display)
	})

	t.Run("unknown names get the standard prefix", func(t *testing.T) {
		ref, err := resolveIndicator("keltner", anon)
		require.NoError(t, err)
		require.Equal(t, "STD;KELTNER", ref.ID)
		require.Equal(t, "KELTNER", ref.Display)
	})

	t.Run("custom namespaces require a session cookie", func(t *testing.T) {
		_, err := resolveIndicator("USER;deadbeef", anon)
		require.ErrorIs(t, err, types.ErrAuthRequired)

		_, err = resolveIndicator("PUB;abc123", anon)
		require.ErrorIs(t, err, types.ErrAuthRequired)

		ref, err := resolveIndicator("USER;deadbeef", authed)
		require.NoError(t, err)
		require.Equal(t, "USER;deadbeef", ref.ID)
	})

	t.Run("standard ids need no auth", func(t *testing.T) {
		_, err := resolveIndicator("STD;RSI", anon)
		require.NoError(t, err)
	})

	t.Run("empty name is invalid", func(t *testing.T) {
		_, err := resolveIndicator("", anon)
		require.ErrorIs(t, err, types.ErrInvalidArgument)

		_, err = resolveIndicator("  ", anon)
		require.ErrorIs(t, err, types.ErrInvalidArgument)
	})

	t.Run("trailing separator is invalid", func(t *testing.T) {
		_, err := resolveIndicator("USER;", authed)
		require.ErrorIs(t, err, types.ErrInvalidArgument)
	})
}

func TestNormalizeIndicator(t *testing.T) {
	// removals and lookups must not be gated on credentials
	ref, err := normalizeIndicator("USER;deadbeef")
	require.NoError(t, err)
	require.Equal(t, "USER;deadbeef", ref.ID)
	require.Equal(t, "DEADBEEF", ref.Display)
}
