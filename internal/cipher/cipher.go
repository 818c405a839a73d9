// Package cipher defines the injected decryption primitive for encrypted
// fragments and a stdlib AES-128-CBC reference
// implementation.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Cipher decrypts a fragment payload given a key and an explicit or
// derived IV. Kept as an interface (rather than a free function) so hosts
// can swap in hardware-backed or FIPS-validated implementations without
// touching internal/fragment.
type Cipher interface {
	Decrypt(key, iv, ciphertext []byte) ([]byte, error)
}

// AES128CBC is the reference Cipher: AES-128 in CBC mode with PKCS#7
// padding removal, matching HLS's AES-128 method and MSS/DASH CBCS/CBC1
// full-sample encryption.
type AES128CBC struct{}

func (AES128CBC) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	plaintext, err := cbcDecrypt(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	return unpadPKCS7(plaintext)
}

// DecryptRange decrypts a block-aligned ciphertext range that does not
// start at the fragment's first block, given the ciphertext block
// immediately preceding the range. CBC is self-synchronizing: block N
// only depends on ciphertext block N-1, so that preceding block serves
// as the IV for everything after it. No PKCS#7 unpadding is applied,
// since a byte-range fetch that lands mid-fragment never reaches the
// final padded block (the trick-mode sync-sample refetch path).
func (AES128CBC) DecryptRange(key, precedingBlock, ciphertext []byte) ([]byte, error) {
	return cbcDecrypt(key, precedingBlock, ciphertext)
}

func cbcDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("cipher: AES-128 key must be 16 bytes, got %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cipher: IV must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cipher: empty ciphertext")
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cipher: ciphertext length %d is not a multiple of block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

func unpadPKCS7(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("cipher: cannot unpad empty data")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n || padLen > aes.BlockSize {
		return nil, fmt.Errorf("cipher: invalid PKCS#7 padding length %d", padLen)
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("cipher: invalid PKCS#7 padding bytes")
		}
	}
	return data[:n-padLen], nil
}

var _ Cipher = AES128CBC{}
