package blobstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrDecrypt — шифротекст не прошёл аутентификацию (повреждён или чужой ключ).
var ErrDecrypt = errors.New("ошибка расшифровки объекта")

// Cipher — AES-256-GCM шифрование объектов.
// Для каждого объекта генерируется свой случайный nonce (12 байт),
// который хранится в метаданных объекта и явно передаётся в Open.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher создаёт шифр из 32-байтного ключа.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("длина ключа %d байт, требуется 32", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal шифрует plaintext со свежим случайным nonce.
func (c *Cipher) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("ошибка генерации nonce: %w", err)
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open расшифровывает и аутентифицирует ciphertext с переданным nonce.
func (c *Cipher) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: некорректная длина nonce %d", ErrDecrypt, len(nonce))
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
