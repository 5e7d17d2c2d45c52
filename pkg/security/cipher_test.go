package security

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := testCipher(t)

	plain := []byte("collective memory payload")
	sealed, err := c.Seal(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	got, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSealIsNonDeterministic(t *testing.T) {
	c := testCipher(t)
	a, err := c.Seal([]byte("same input"))
	require.NoError(t, err)
	b, err := c.Seal([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per seal")
}

func TestOpenRejectsTampering(t *testing.T) {
	c := testCipher(t)
	sealed, err := c.Seal([]byte("secret"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = c.Open(sealed)
	assert.Error(t, err)

	_, err = c.Open([]byte("short"))
	assert.Error(t, err)
}

func TestOpenRejectsForeignKey(t *testing.T) {
	a := testCipher(t)
	b := testCipher(t)

	sealed, err := a.Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestNewCipherKeyLength(t *testing.T) {
	_, err := NewCipher([]byte("too short"))
	assert.Error(t, err)
}

func TestNewCipherFromPassphrase(t *testing.T) {
	_, err := NewCipherFromPassphrase("")
	assert.Error(t, err)

	c1, err := NewCipherFromPassphrase("hunter2")
	require.NoError(t, err)
	c2, err := NewCipherFromPassphrase("hunter2")
	require.NoError(t, err)

	sealed, err := c1.Seal([]byte("v"))
	require.NoError(t, err)
	got, err := c2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestLoadOrCreateKey(t *testing.T) {
	dir := t.TempDir()

	key1, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	assert.Len(t, key1, KeySize)

	key2, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, key1, key2, "second load reuses the persisted key")

	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadOrCreateKeyRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFileName), []byte("bad"), 0o600))
	_, err := LoadOrCreateKey(dir)
	assert.Error(t, err)
}
