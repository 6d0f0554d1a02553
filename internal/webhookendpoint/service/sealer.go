package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"golang.org/x/crypto/hkdf"
	"gorm.io/datatypes"
)

const sealVersion = 1

var sealInfo = []byte("settlement/webhook-secret/v1")

type sealedSecret struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// sealer encrypts signing secrets with AES-256-GCM under a key derived from
// the operator's master key.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(masterKey string) (*sealer, error) {
	if masterKey == "" {
		return nil, domain.ErrEncryptionKeyMissing
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, sealInfo), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plaintext []byte) (datatypes.JSON, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out, err := json.Marshal(sealedSecret{
		Version:    sealVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(s.aead.Seal(nil, nonce, plaintext, nil)),
	})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

func (s *sealer) open(sealed datatypes.JSON) ([]byte, error) {
	var payload sealedSecret
	if err := json.Unmarshal(sealed, &payload); err != nil {
		return nil, domain.ErrSealedSecretInvalid
	}
	if payload.Version != sealVersion {
		return nil, domain.ErrSealedSecretInvalid
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil || len(nonce) != s.aead.NonceSize() {
		return nil, domain.ErrSealedSecretInvalid
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, domain.ErrSealedSecretInvalid
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrSealedSecretInvalid
	}
	return plaintext, nil
}
