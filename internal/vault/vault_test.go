package vault

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestVaultRoundTrip(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	plaintext := []byte("per-shop secret material")
	ciphertext, err := v.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// A second encryption of the same plaintext uses a fresh nonce.
	ciphertext2, err := v.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, ciphertext2)
}

func TestVaultRejectsBadKeys(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = New("not base64!!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = New(short)
	assert.Error(t, err)
}

func TestVaultDecryptErrors(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	_, err = v.Decrypt([]byte{1, 2, 3})
	assert.Error(t, err)

	other := make([]byte, 32)
	for i := range other {
		other[i] = byte(255 - i)
	}
	v2, err := New(base64.StdEncoding.EncodeToString(other))
	require.NoError(t, err)

	ciphertext, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = v2.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptMailboxCredentials(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	creds := MailboxCredentials{
		Address:  "loja@example.com",
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		Username: "loja@example.com",
		Password: "hunter2",
	}
	blob, err := json.Marshal(creds)
	require.NoError(t, err)
	ciphertext, err := v.Encrypt(blob)
	require.NoError(t, err)

	got, err := v.DecryptMailbox(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, creds, *got)
	assert.False(t, got.UsesGmailAPI())

	got.OAuthRefreshToken = "refresh"
	assert.True(t, got.UsesGmailAPI())
}

func TestDecryptCommerceCredentials(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	creds := CommerceCredentials{StoreDomain: "shop.myshopify.com", AccessToken: "shpat_123"}
	blob, err := json.Marshal(creds)
	require.NoError(t, err)
	ciphertext, err := v.Encrypt(blob)
	require.NoError(t, err)

	got, err := v.DecryptCommerce(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, creds, *got)
}
