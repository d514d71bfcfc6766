package konserve_test

import (
	"testing"

	"github.com/danielsz/konserve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestAES256GCM_RoundTrip(t *testing.T) {
	enc, err := konserve.NewAES256GCM(testKey())
	require.NoError(t, err)

	plain := []byte("Hello, konserve!")
	sealed, err := enc.Encrypt(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestAES256GCM_FreshNonce(t *testing.T) {
	enc, err := konserve.NewAES256GCM(testKey())
	require.NoError(t, err)
	a, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAES256GCM_InvalidKeyLength(t *testing.T) {
	_, err := konserve.NewAES256GCM([]byte("short"))
	require.ErrorIs(t, err, konserve.ErrInvalidConfig)
}

func TestAES256GCM_TamperDetection(t *testing.T) {
	enc, err := konserve.NewAES256GCM(make([]byte, 32))
	require.NoError(t, err)
	sealed, err := enc.Encrypt([]byte("secret"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF
	_, err = enc.Decrypt(sealed)
	require.ErrorIs(t, err, konserve.ErrCiphertext)
}

func TestAES256GCM_TooShort(t *testing.T) {
	enc, err := konserve.NewAES256GCM(make([]byte, 32))
	require.NoError(t, err)
	_, err = enc.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, konserve.ErrCiphertext)
}
