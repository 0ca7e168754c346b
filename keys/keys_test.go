package keys

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestDeriveIgnoresCaseAndWhitespace(t *testing.T) {
	ctx := map[string]string{"lang": "en"}

	a := Derive("Hello World", ctx)
	b := Derive("  hello world  ", ctx)
	c := Derive("HELLO\t\n  WORLD", ctx)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Regexp(t, hex32, a.String())
}

func TestDeriveContextDisambiguates(t *testing.T) {
	en := Derive("Hello World", map[string]string{"lang": "en"})
	hi := Derive("Hello World", map[string]string{"lang": "hi"})
	none := Derive("Hello World", nil)

	assert.NotEqual(t, en, hi)
	assert.NotEqual(t, en, none)
	assert.Equal(t, en, Derive("hello world", map[string]string{" LANG ": "EN"}))
}

func TestDeriveContextOrderIndependent(t *testing.T) {
	a := Derive("x", map[string]string{"lang": "en", "type": "text"})
	b := Derive("x", map[string]string{"type": "text", "lang": "en"})
	assert.Equal(t, a, b)
}

func TestDeriveFieldBoundariesDoNotCollide(t *testing.T) {
	a := Derive("ab", map[string]string{"c": "d"})
	b := Derive("a", map[string]string{"bc": "d"})
	c := Derive("abc", map[string]string{"": "d"})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDeriveEmptyInputIsDistinct(t *testing.T) {
	empty := Derive("", nil)
	assert.Regexp(t, hex32, empty.String())
	assert.NotEqual(t, empty, Derive(" x ", nil))
	assert.Equal(t, empty, Derive("   ", nil))
}

func TestDeriveUnicodeNormalization(t *testing.T) {
	// precomposed vs combining acute
	assert.Equal(t, Derive("café", nil), Derive("café", nil))
	assert.Equal(t, Derive("\u00c0B", nil), Derive("\u00e0b", nil))
}

func TestDeriverScope(t *testing.T) {
	text := Deriver{Scope: "text"}
	image := Deriver{Scope: "image"}

	assert.NotEqual(t, text.Derive("same", nil), image.Derive("same", nil))
	assert.Equal(t, text.Derive("Same", nil), Deriver{Scope: " TEXT"}.Derive("same ", nil))
	assert.NotEqual(t, text.Derive("same", nil), Derive("same", nil))
}

func TestDeriveStrict(t *testing.T) {
	k, err := DeriveStrict("Hello", map[string]string{"lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, Derive("hello", map[string]string{"lang": "en"}), k)

	_, err = DeriveStrict("bad \xff", nil)
	var de *DerivationError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "content", de.Field)

	_, err = DeriveStrict("ok", map[string]string{"  ": "en"})
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "context", de.Field)

	_, err = Deriver{Scope: "text"}.DeriveStrict("ok", map[string]string{"lang": "\xfe"})
	require.Error(t, err)
}

func TestDeriveRepairsInvalidUTF8(t *testing.T) {
	assert.Equal(t, Derive("a\xffb", nil), Derive("a\uFFFDb", nil))
}
