package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("a-strong-secret-key")
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("sk-test-api-key-12345")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-test-api-key-12345", ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-api-key-12345", plaintext)
}

func TestDecrypt_SameSecretAcrossInstances(t *testing.T) {
	first, err := NewEncryptor("shared-secret-key")
	require.NoError(t, err)
	second, err := NewEncryptor("shared-secret-key")
	require.NoError(t, err)

	ciphertext, err := first.Encrypt("value")
	require.NoError(t, err)

	plaintext, err := second.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "value", plaintext)
}

func TestNewEncryptor_RejectsShortKey(t *testing.T) {
	_, err := NewEncryptor("short")
	assert.Error(t, err)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	enc, err := NewEncryptor("the-right-secret")
	require.NoError(t, err)
	ciphertext, err := enc.Encrypt("value")
	require.NoError(t, err)

	other, err := NewEncryptor("a-wrong-secret!!")
	require.NoError(t, err)
	_, err = other.Decrypt(ciphertext)
	assert.Error(t, err)
}
