package vault

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/internal/apperr"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New("test-master-key")

	blob, err := v.Encrypt("my-api-key-12345")
	require.NoError(t, err)
	assert.NotEqual(t, "my-api-key-12345", blob)

	plain, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "my-api-key-12345", plain)
}

func TestEncryptProducesUniqueBlobs(t *testing.T) {
	v := New("test-master-key")

	first, err := v.Encrypt("same-secret")
	require.NoError(t, err)
	second, err := v.Encrypt("same-secret")
	require.NoError(t, err)

	// Свежий nonce на каждый вызов — блобы разные
	assert.NotEqual(t, first, second)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	blob, err := New("correct-key").Encrypt("secret")
	require.NoError(t, err)

	_, err = New("wrong-key").Decrypt(blob)
	require.Error(t, err)

	var encErr *apperr.EncryptionError
	require.True(t, errors.As(err, &encErr))
	assert.NotContains(t, err.Error(), "secret")
}

func TestDecryptTamperedBlobFails(t *testing.T) {
	v := New("test-master-key")

	blob, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = v.Decrypt(tampered)
	var encErr *apperr.EncryptionError
	require.True(t, errors.As(err, &encErr))
}

func TestDecryptGarbageFails(t *testing.T) {
	v := New("test-master-key")

	for _, blob := range []string{"", "not-base64!!!", "c2hvcnQ="} {
		_, err := v.Decrypt(blob)
		var encErr *apperr.EncryptionError
		require.True(t, errors.As(err, &encErr), "blob %q", blob)
	}
}

func TestZero(t *testing.T) {
	buf := []byte("sensitive")
	Zero(buf)
	for i, b := range buf {
		assert.Zero(t, b, "byte %d not cleared", i)
	}
}
