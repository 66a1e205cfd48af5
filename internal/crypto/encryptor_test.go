package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptRoundTrip(t *testing.T) {
	e, err := NewEncryptor(testKey)
	require.NoError(t, err)

	a, err := e.Encrypt("abcdefgh12345678")
	require.NoError(t, err)
	b, err := e.Encrypt("abcdefgh12345678")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per call")
	assert.NotContains(t, a, "abcdefgh")

	plain, err := e.Decrypt(a)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh12345678", plain)
}

func TestDecryptRejectsTampering(t *testing.T) {
	e, err := NewEncryptor(testKey)
	require.NoError(t, err)
	ct, err := e.Encrypt("secret")
	require.NoError(t, err)

	flipped := []byte(ct)
	if flipped[len(flipped)-1] == '0' {
		flipped[len(flipped)-1] = '1'
	} else {
		flipped[len(flipped)-1] = '0'
	}
	_, err = e.Decrypt(string(flipped))
	assert.Error(t, err)

	_, err = e.Decrypt("abcd")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestNewEncryptorValidatesKey(t *testing.T) {
	_, err := NewEncryptor("zz")
	assert.Error(t, err)
	_, err = NewEncryptor(strings.Repeat("ab", 16))
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	e, err := NewEncryptor(testKey)
	require.NoError(t, err)
	other, err := NewEncryptor(strings.Repeat("ff", 32))
	require.NoError(t, err)

	assert.Equal(t, e.Fingerprint("key-a"), e.Fingerprint("key-a"))
	assert.NotEqual(t, e.Fingerprint("key-a"), e.Fingerprint("key-b"))
	assert.NotEqual(t, e.Fingerprint("key-a"), other.Fingerprint("key-a"))
	assert.Len(t, e.Fingerprint("key-a"), 64)
}
