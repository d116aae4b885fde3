package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"tradepilot/internal/apperr"
)

const (
	// Итерации PBKDF2. Ключ выводится один раз на процесс,
	// поэтому стоимость вывода не влияет на каждый запрос.
	kdfIterations = 100_000
	keyLen        = 32
)

// Соль фиксированная: один мастер-ключ на процесс, отдельная соль
// на секрет дала бы повторный вывод ключа на каждый запрос.
var kdfSalt = []byte("tradepilot.vault.v1")

// Vault шифрует и расшифровывает биржевые ключи с помощью AES-256-GCM.
// Ключ выводится из мастер-секрета через PBKDF2 и кэшируется.
type Vault struct {
	key []byte
}

func New(masterKey string) *Vault {
	key := pbkdf2.Key([]byte(masterKey), kdfSalt, kdfIterations, keyLen, sha256.New)
	return &Vault{key: key}
}

// Encrypt шифрует plaintext. Формат блоба: base64(nonce || ciphertext || tag).
// Каждый вызов берёт свежий 96-битный nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", &apperr.EncryptionError{Op: "encrypt"}
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", &apperr.EncryptionError{Op: "encrypt"}
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &apperr.EncryptionError{Op: "encrypt"}
	}

	cipherText := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(cipherText), nil
}

// Decrypt расшифровывает блоб. Любой сбой — битый base64, короткий блоб,
// несовпадение тега — возвращает EncryptionError; частичного результата нет.
func (v *Vault) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", &apperr.EncryptionError{Op: "decrypt"}
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", &apperr.EncryptionError{Op: "decrypt"}
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", &apperr.EncryptionError{Op: "decrypt"}
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return "", &apperr.EncryptionError{Op: "decrypt"}
	}

	nonce, cipherBytes := data[:nonceSize], data[nonceSize:]
	plainText, err := gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", &apperr.EncryptionError{Op: "decrypt"}
	}

	return string(plainText), nil
}

// Zero затирает буфер с расшифрованным значением.
// Вызывающий обязан не логировать и не кэшировать plaintext.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
