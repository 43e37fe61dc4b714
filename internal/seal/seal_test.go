package seal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := New()

	ciphertext, err := s.Encrypt("the quick brown fox", "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, Prefix))
	assert.NotContains(t, ciphertext, "quick brown fox")

	result := s.Decrypt(ciphertext, "correct horse battery staple")
	assert.True(t, result.DecryptComplete)
	assert.Equal(t, "the quick brown fox", result.Content)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	s := New()

	a, err := s.Encrypt("same plaintext", "seed")
	require.NoError(t, err)
	b, err := s.Encrypt("same plaintext", "seed")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "fresh salt and nonce must make every sealing unique")
}

func TestEncryptRejectsOversizedPayload(t *testing.T) {
	s := New()

	_, err := s.Encrypt(strings.Repeat("x", MaxPlaintext+1), "seed")
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = s.Encrypt(strings.Repeat("x", MaxPlaintext), "seed")
	assert.NoError(t, err, "exactly the ceiling must be accepted")
}

func TestDecryptWrongSeedReturnsInput(t *testing.T) {
	s := New()

	ciphertext, err := s.Encrypt("secret", "right seed")
	require.NoError(t, err)

	result := s.Decrypt(ciphertext, "wrong seed")
	assert.False(t, result.DecryptComplete)
	assert.Equal(t, ciphertext, result.Content, "failed decrypts hand back the ciphertext untouched")
}

func TestDecryptNeverPanicsOnGarbage(t *testing.T) {
	s := New()

	for _, input := range []string{
		"",
		"plain text with no prefix",
		Prefix,
		Prefix + "not-base64!!!",
		Prefix + "YWJj", // valid base64, far too short
	} {
		result := s.Decrypt(input, "seed")
		assert.False(t, result.DecryptComplete, "input %q", input)
		assert.Equal(t, input, result.Content, "input %q", input)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	s := New()

	ciphertext, err := s.Encrypt("secret", "seed")
	require.NoError(t, err)

	tampered := ciphertext[:len(ciphertext)-2] + "AA"
	result := s.Decrypt(tampered, "seed")
	assert.False(t, result.DecryptComplete)
}
