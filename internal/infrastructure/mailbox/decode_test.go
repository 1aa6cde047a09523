package mailbox

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextDecoder(t *testing.T) {
	t.Parallel()

	d, err := NewTextDecoder("")
	require.NoError(t, err)
	assert.Equal(t, "ISO-8859-1", d.Fallback())

	d, err = NewTextDecoder("windows-1252")
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", d.Fallback())

	_, err = NewTextDecoder("klingon-8")
	assert.Error(t, err)
}

func TestRepair(t *testing.T) {
	t.Parallel()

	latin, err := NewTextDecoder("")
	require.NoError(t, err)
	cyrillic, err := NewTextDecoder("windows-1251")
	require.NoError(t, err)

	assert.Equal(t, "Café", latin.Repair([]byte("Café")), "valid UTF-8 is kept")
	assert.Equal(t, "Café", latin.Repair([]byte("Caf\xe9")))
	assert.Equal(t, "Cafй", cyrillic.Repair([]byte("Caf\xe9")))
}

func TestDeclaredCharset(t *testing.T) {
	t.Parallel()

	r, err := declaredCharset("koi8-r", strings.NewReader("\xf0\xd2\xc9\xd7\xc5\xd4"))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "Привет", string(out))

	r, err = declaredCharset("x-unknown", strings.NewReader("Caf\xe9"))
	require.NoError(t, err)
	out, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "Caf\xe9", string(out), "unknown charsets pass through for the parser to repair")
}
