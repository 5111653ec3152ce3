package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMissingKey is returned when the vault is used without a master key.
var ErrMissingKey = errors.New("vault: master key not configured")

// MailboxCredentials are the decrypted per-shop mailbox secrets. A shop
// uses either IMAP/SMTP (username/password) or the Gmail API (OAuth
// refresh token); the gateway factory switches on the token's presence.
type MailboxCredentials struct {
	Address  string `json:"address"`
	FromName string `json:"from_name"`

	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port"`
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	Username string `json:"username"`
	Password string `json:"password"`

	OAuthClientID     string `json:"oauth_client_id,omitempty"`
	OAuthClientSecret string `json:"oauth_client_secret,omitempty"`
	OAuthRefreshToken string `json:"oauth_refresh_token,omitempty"`
}

// UsesGmailAPI reports whether the shop's mailbox is connected via the
// Gmail API rather than IMAP/SMTP.
func (c *MailboxCredentials) UsesGmailAPI() bool {
	return c.OAuthRefreshToken != ""
}

// CommerceCredentials are the decrypted per-shop commerce API secrets.
type CommerceCredentials struct {
	StoreDomain string `json:"store_domain"`
	AccessToken string `json:"access_token"`
}

// Vault decrypts per-shop secrets on demand using AES-GCM. The master
// key is a base64-encoded 32-byte key held in memory; ciphertexts are
// [nonce][encrypted_data][auth_tag] with the nonce prepended.
type Vault struct {
	key []byte
}

// New creates a Vault from a base64-encoded 256-bit master key.
func New(base64Key string) (*Vault, error) {
	if base64Key == "" {
		return nil, ErrMissingKey
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	return &Vault{key: key}, nil
}

// Encrypt encrypts the given plaintext. Each call uses a random nonce,
// so the same plaintext produces different ciphertexts.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts the given ciphertext. Returns an error if the
// ciphertext is corrupted or was encrypted with a different key.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// DecryptMailbox decrypts a shop's mailbox credential blob.
func (v *Vault) DecryptMailbox(ciphertext []byte) (*MailboxCredentials, error) {
	plaintext, err := v.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	var creds MailboxCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mailbox credentials: %w", err)
	}
	return &creds, nil
}

// DecryptCommerce decrypts a shop's commerce credential blob.
func (v *Vault) DecryptCommerce(ciphertext []byte) (*CommerceCredentials, error) {
	plaintext, err := v.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	var creds CommerceCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal commerce credentials: %w", err)
	}
	return &creds, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	if v == nil || len(v.key) == 0 {
		return nil, ErrMissingKey
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
