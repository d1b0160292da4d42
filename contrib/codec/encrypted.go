package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"

	"github.com/cockroachdb/errors"
)

// Encrypted wraps a Codec with AES-CBC, for deployments that replicate
// cache values through a shared, untrusted transport (e.g. a Redis
// instance outside the service's own network boundary).
type Encrypted struct {
	Inner Codec
	key   []byte
	iv    []byte
}

// NewEncrypted builds an Encrypted codec. key must be 16, 24 or 32 bytes
// (AES-128/192/256) and iv must be exactly aes.BlockSize bytes.
func NewEncrypted(inner Codec, key, iv []byte) (Encrypted, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return Encrypted{}, errors.Newf("codec: invalid AES key length %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return Encrypted{}, errors.Newf("codec: invalid AES IV length %d", len(iv))
	}
	return Encrypted{Inner: inner, key: key, iv: iv}, nil
}

func (e Encrypted) Marshal(v any) ([]byte, error) {
	raw, err := e.Inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(raw, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, e.iv).CryptBlocks(out, padded)
	return out, nil
}

func (e Encrypted) Unmarshal(data []byte, v any) error {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return errors.New("codec: ciphertext is not block-aligned")
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, e.iv).CryptBlocks(plain, data)
	unpadded, err := pkcs7Unpad(plain)
	if err != nil {
		return err
	}
	return e.Inner.Unmarshal(unpadded, v)
}

func pkcs7Pad(src []byte, blockSize int) []byte {
	padLen := blockSize - len(src)%blockSize
	return append(src, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(src []byte) ([]byte, error) {
	n := len(src)
	padLen := int(src[n-1])
	if padLen == 0 || padLen > n {
		return nil, errors.New("codec: invalid PKCS7 padding")
	}
	for _, b := range src[n-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("codec: invalid PKCS7 padding")
		}
	}
	return src[:n-padLen], nil
}
