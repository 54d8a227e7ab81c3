package codec

import (
	"testing"

	"marketplace/internal/models/domainErrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIV = "0123456789abcdef"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New("market-secret", "market-salt", testIV)
	require.NoError(t, err)
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	for _, plain := range []string{"", "1", "4111-1111-1111-1111", "19900101", "exactly16bytes!!", "한글 생년월일"} {
		enc, err := c.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, enc)

		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestCodec_Deterministic(t *testing.T) {
	c := newTestCodec(t)
	other := newTestCodec(t)

	a1, _ := c.Encrypt("4111-1111-1111-1111")
	a2, _ := other.Encrypt("4111-1111-1111-1111")
	b, _ := c.Encrypt("4111-1111-1111-1112")

	assert.Equal(t, a1, a2, "equal plaintexts must give equal ciphertexts")
	assert.NotEqual(t, a1, b)
}

func TestCodec_KeyMaterialMatters(t *testing.T) {
	c := newTestCodec(t)
	otherSalt, err := New("market-secret", "other-salt", testIV)
	require.NoError(t, err)

	enc, _ := c.Encrypt("19900101")
	enc2, _ := otherSalt.Encrypt("19900101")
	assert.NotEqual(t, enc, enc2)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		salt       string
		iv         string
	}{
		{"no passphrase", "", "salt", testIV},
		{"no salt", "pass", "", testIV},
		{"short iv", "pass", "salt", "short"},
		{"long iv", "pass", "salt", testIV + "x"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.passphrase, tt.salt, tt.iv)
			assert.ErrorIs(t, err, domainErrors.ErrCodecFailure)
		})
	}
}

func TestCodec_DecryptGarbage(t *testing.T) {
	c := newTestCodec(t)

	for _, in := range []string{"not base64!!", "", "AAAA"} {
		_, err := c.Decrypt(in)
		assert.ErrorIs(t, err, domainErrors.ErrCodecFailure, in)
	}
}
