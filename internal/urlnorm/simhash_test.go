package urlnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimhashEmptyInputIsAllZeros(t *testing.T) {
	fp, err := Simhash("", 64)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("0", 16), fp)
}

func TestSimhashIsCaseInsensitiveForLatinTokens(t *testing.T) {
	text := "Breaking News from the Capital"
	lower, err := Simhash(text, 64)
	require.NoError(t, err)
	upper, err := Simhash(strings.ToUpper(text), 64)
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestSimhashRejectsNonByteAlignedWidth(t *testing.T) {
	_, err := Simhash("text", 63)
	require.Error(t, err)

	_, err = Simhash("text", 0)
	require.Error(t, err)

	_, err = Simhash("text", -8)
	require.Error(t, err)
}

func TestSimhashWidthControlsOutputLength(t *testing.T) {
	for _, bits := range []int{8, 32, 64, 128} {
		fp, err := Simhash("首相が会見で新しい政策を発表した", bits)
		require.NoError(t, err)
		assert.Len(t, fp, bits/4)
	}
}

func TestSimhashSimilarTextsShareMostBits(t *testing.T) {
	a, err := Simhash("the quick brown fox jumps over the lazy dog near the river", 64)
	require.NoError(t, err)
	b, err := Simhash("the quick brown fox jumps over the lazy cat near the river", 64)
	require.NoError(t, err)

	assert.Less(t, hammingHex(t, a, b), 20)
}

func TestSimhashIsDeterministic(t *testing.T) {
	first, err := Simhash("経済指標が市場の予想を上回った", 64)
	require.NoError(t, err)
	second, err := Simhash("経済指標が市場の予想を上回った", 64)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func hammingHex(t *testing.T, a, b string) int {
	t.Helper()
	require.Equal(t, len(a), len(b))
	distance := 0
	for i := range a {
		x := hexNibble(t, a[i]) ^ hexNibble(t, b[i])
		for x != 0 {
			distance += int(x & 1)
			x >>= 1
		}
	}
	return distance
}

func hexNibble(t *testing.T, c byte) byte {
	t.Helper()
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	t.Fatalf("invalid hex digit %q", c)
	return 0
}
