package telegram

import (
	"strings"
	"testing"

	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortMessageIsUntouched(t *testing.T) {
	assert.Equal(t, []string{"hello\n"}, splitText("hello\n", 10))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTextCountsRunes(t *testing.T) {
	s := strings.Repeat("é", 25)
	got := splitText(s, 10)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.LessOrEqual(t, len([]rune(c)), 10)
	}
	assert.Equal(t, s, strings.Join(got, ""))
}

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget("-1001234")
	require.NoError(t, err)
	assert.Equal(t, Target{ChatID: -1001234}, tg)

	tg, err = ParseTarget("-1001234/42")
	require.NoError(t, err)
	assert.Equal(t, Target{ChatID: -1001234, ThreadID: 42}, tg)

	for _, bad := range []string{"", "abc", "0", "12/x", "12/0"} {
		_, err := ParseTarget(bad)
		assert.ErrorIs(t, err, transport.ErrInvalidChannel, bad)
	}
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	assert.Error(t, err)
}
