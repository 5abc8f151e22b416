package shortcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Encode_Deterministic(t *testing.T) {
	codec, err := NewCodec("test-salt", 6)
	require.NoError(t, err)

	first, err := codec.Encode(42)
	require.NoError(t, err)

	second, err := codec.Encode(42)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCodec_Encode_NoCollisions(t *testing.T) {
	codec, err := NewCodec("test-salt", 6)
	require.NoError(t, err)

	seen := make(map[string]int64, 5000)
	for id := int64(0); id < 5000; id++ {
		code, err := codec.Encode(id)
		require.NoError(t, err)

		if prev, ok := seen[code]; ok {
			t.Fatalf("ids %d and %d both encoded to %q", prev, id, code)
		}
		seen[code] = id
	}
}

func TestCodec_Encode_MinLength(t *testing.T) {
	codec, err := NewCodec("test-salt", 6)
	require.NoError(t, err)

	for _, id := range []int64{0, 1, 7, 999, 1 << 40} {
		code, err := codec.Encode(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(code), 6, "id %d encoded too short: %q", id, code)
	}
}

func TestCodec_Encode_AlphabetOnly(t *testing.T) {
	codec, err := NewCodec("test-salt", 6)
	require.NoError(t, err)

	code, err := codec.Encode(123456789)
	require.NoError(t, err)

	for _, r := range code {
		assert.True(t, strings.ContainsRune(Alphabet, r), "unexpected rune %q in %q", r, code)
	}
}

func TestCodec_Encode_SaltChangesOutput(t *testing.T) {
	a, err := NewCodec("salt-a", 6)
	require.NoError(t, err)
	b, err := NewCodec("salt-b", 6)
	require.NoError(t, err)

	codeA, err := a.Encode(42)
	require.NoError(t, err)
	codeB, err := b.Encode(42)
	require.NoError(t, err)

	assert.NotEqual(t, codeA, codeB)
}

func TestCodec_Encode_RejectsNegative(t *testing.T) {
	codec, err := NewCodec("test-salt", 6)
	require.NoError(t, err)

	_, err = codec.Encode(-1)
	assert.Error(t, err)
}
