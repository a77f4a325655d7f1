package sonoff

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// DIY-mode devices with a device key expect AES-128-CBC with the MD5 of the
// key, PKCS#7 padding and a fresh IV per message, all base64 encoded.

func encrypt(key string, payload interface{}) (data, iv string, err error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", "", errors.Wrap(err, "encoding payload")
	}

	sum := md5.Sum([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return "", "", err
	}

	ivBytes := make([]byte, aes.BlockSize)
	if _, err := rand.Read(ivBytes); err != nil {
		return "", "", errors.Wrap(err, "generating IV")
	}

	padded := pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, ivBytes).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), base64.StdEncoding.EncodeToString(ivBytes), nil
}

func decrypt(key, data, iv string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.Wrap(err, "decoding data")
	}
	ivBytes, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, errors.Wrap(err, "decoding IV")
	}
	if len(ivBytes) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, errors.New("malformed ciphertext")
	}

	sum := md5.Sum([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, ivBytes).CryptBlocks(plain, ct)

	return unpad(plain, aes.BlockSize)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
