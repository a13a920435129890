package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(t.TempDir())
	require.NoError(t, err)

	sealed, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", sealed)

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptProducesDistinctCiphertextsForSamePlaintext(t *testing.T) {
	enc, err := NewEncryptor(t.TempDir())
	require.NoError(t, err)

	a, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	b, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ between calls")
}

func TestNewEncryptorPersistsAndReloadsKey(t *testing.T) {
	dir := t.TempDir()

	enc1, err := NewEncryptor(dir)
	require.NoError(t, err)
	sealed, err := enc1.Encrypt("hunter2")
	require.NoError(t, err)

	enc2, err := NewEncryptor(dir)
	require.NoError(t, err)
	plain, err := enc2.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain, "a fresh Encryptor over the same data dir must reuse the persisted key")
}

func TestDecryptRejectsCorruptCiphertext(t *testing.T) {
	enc, err := NewEncryptor(t.TempDir())
	require.NoError(t, err)

	_, err = enc.Decrypt("not-valid-base64!!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("dG9vc2hvcnQ=") // valid base64, too short to contain a nonce
	assert.Error(t, err)
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	sealed, err := func() (string, error) {
		enc, err := NewEncryptor(t.TempDir())
		if err != nil {
			return "", err
		}
		return enc.Encrypt("hunter2")
	}()
	require.NoError(t, err)

	other, err := NewEncryptor(t.TempDir())
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.Error(t, err)
}
