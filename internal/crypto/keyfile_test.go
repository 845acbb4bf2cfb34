package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyfileRoundTrip(t *testing.T) {
	blob, err := EncryptKeyfile("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKeyfile(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, testKey, got)
}

func TestDecryptKeyfileRejectsWrongPassword(t *testing.T) {
	blob, err := EncryptKeyfile(testKey, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKeyfile(blob, "hunter3")
	require.Error(t, err)
}

func TestEncryptKeyfileRejectsBadInput(t *testing.T) {
	_, err := EncryptKeyfile(testKey, "")
	require.Error(t, err)

	_, err = EncryptKeyfile("0x1234", "hunter2")
	require.Error(t, err)
}

func TestResolveKeyPrefersRawKey(t *testing.T) {
	got, err := ResolveKey(KeyConfig{
		RawPrivateKey:    "0x" + testKey,
		EncryptedKeyPath: "/nonexistent/keyfile.json",
	})
	require.NoError(t, err)
	require.Equal(t, testKey, got)
}

func TestResolveKeyReadsEncryptedFile(t *testing.T) {
	blob, err := EncryptKeyfile(testKey, "hunter2")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keyfile.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := ResolveKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, testKey, got)
}

func TestResolveKeyRequiresASource(t *testing.T) {
	_, err := ResolveKey(KeyConfig{})
	require.Error(t, err)

	_, err = ResolveKey(KeyConfig{RawPrivateKey: "zz"})
	require.Error(t, err)
}
