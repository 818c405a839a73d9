// Package fragment implements the fragment cache/decryptor: accepts
// streaming bytes for one fragment, AES-128-CBC decrypts on 16-byte
// block boundaries, strips PKCS#7 padding only once the fragment ends,
// and runs typefinding on the leading bytes of each fragment (a Decryptor
// lives for one fragment, so detected caps are not carried over to the
// next fragment).
package fragment

import (
	stdaes "crypto/aes"
	stdcipher "crypto/cipher"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/internal/typefind"
)

const (
	// typefindMinBytes is the buffering threshold before a probe is
	// attempted.
	typefindMinBytes = 2 * 1024
	// typefindMaxBytes is the ceiling past which undetected input fails
	// the fragment with TypefindFailed.
	typefindMaxBytes = 2 * 1024 * 1024
)

// Decryptor holds one fragment's streaming decrypt/typefind state:
// pending ciphertext below a block boundary, the held-back final
// plaintext block, the typefind buffer, and the live cipher context.
//
// CBC decryption needs the previous ciphertext block to decrypt the
// next, so the cipher context is a live stdcipher.BlockMode rather than
// the single-shot internal/cipher.Cipher interface (which decrypts and
// unpads an entire buffer at once and is used instead by callers that
// already hold the whole fragment in memory).
type Decryptor struct {
	prober typefind.Prober

	encrypted bool
	mode      stdcipher.BlockMode // nil when this fragment is cleartext

	pendingEncrypted []byte // bytes not yet forming a full 16-byte block
	lastBlock        []byte // most recent decrypted block, held back for
	// PKCS#7 unpadding, which only happens in Finish
	currentOffset int64

	typefindBuf  []byte
	typefindDone bool
	typefindCaps typefind.Caps
}

// NewDecryptor constructs a Decryptor for one fragment. Pass nil key/iv
// for a cleartext fragment; key must be 16 bytes and iv must be
// aes.BlockSize bytes otherwise.
func NewDecryptor(prober typefind.Prober, key, iv []byte) (*Decryptor, error) {
	if prober == nil {
		prober = typefind.MagicByteProber{}
	}
	d := &Decryptor{prober: prober}
	if key == nil {
		return d, nil
	}

	block, err := stdaes.NewCipher(key)
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.InvalidKey, "fragment", "E102", "constructing AES cipher", err)
	}
	if len(iv) != stdaes.BlockSize {
		return nil, corestreamerrors.New(corestreamerrors.InvalidKey, "fragment", "E103", "IV must be 16 bytes")
	}
	d.encrypted = true
	d.mode = stdcipher.NewCBCDecrypter(block, iv)
	return d, nil
}

// Push feeds the next chunk of ciphertext (or cleartext, if the
// Decryptor was built with a nil key) and returns the plaintext bytes
// ready to forward downstream. When encrypted, bytes are buffered until
// a 16-byte boundary accumulates; the final decrypted block of the whole
// fragment is always held back until Finish unpads it.
func (d *Decryptor) Push(chunk []byte) ([]byte, error) {
	d.currentOffset += int64(len(chunk))

	if !d.encrypted {
		return d.feedTypefind(chunk), nil
	}

	d.pendingEncrypted = append(d.pendingEncrypted, chunk...)
	n := len(d.pendingEncrypted) - (len(d.pendingEncrypted) % stdaes.BlockSize)
	if n == 0 {
		return nil, nil
	}
	toDecrypt := d.pendingEncrypted[:n]
	d.pendingEncrypted = append([]byte(nil), d.pendingEncrypted[n:]...)

	plain := make([]byte, n)
	d.mode.CryptBlocks(plain, toDecrypt)

	// Hold back the last block: it may carry PKCS#7 padding that must
	// not be forwarded until Finish confirms end-of-fragment.
	var out []byte
	out = append(out, d.lastBlock...)
	out = append(out, plain[:n-stdaes.BlockSize]...)
	d.lastBlock = plain[n-stdaes.BlockSize:]

	return d.feedTypefind(out), nil
}

// Finish signals end-of-fragment: for an encrypted fragment, the final
// held-back block has its PKCS#7 padding stripped and returned. Bytes
// still held back for typefinding are released as well, even though no
// format was detected, unless the typefind ceiling has been reached
// (TypefindExceeded). Returns an error if pendingEncrypted bytes remain
// (a non-block-aligned encrypted fragment).
func (d *Decryptor) Finish() ([]byte, error) {
	release := func(out []byte) []byte {
		if !d.typefindDone && len(d.typefindBuf) < typefindMaxBytes {
			out = append(out, d.typefindBuf...)
			d.typefindBuf = nil
		}
		return out
	}
	if !d.encrypted {
		return release(nil), nil
	}
	if len(d.pendingEncrypted) != 0 {
		return nil, corestreamerrors.New(corestreamerrors.StreamDecrypt, "fragment", "E201", "fragment ended on a non-block-aligned boundary")
	}
	if d.lastBlock == nil {
		return release(nil), nil
	}
	unpadded, err := stripPKCS7(d.lastBlock)
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.StreamDecrypt, "fragment", "E202", "invalid PKCS#7 padding", err)
	}
	d.lastBlock = nil
	return release(d.feedTypefind(unpadded)), nil
}

// feedTypefind runs the injected prober once caps aren't yet known,
// buffering until typefindMinBytes accumulate; the caller must check
// TypefindExceeded once typefindMaxBytes is reached with no detection.
// Returns the bytes the caller should forward downstream
// (buffered bytes are released once typefinding completes, or by Finish
// at end of fragment).
func (d *Decryptor) feedTypefind(plain []byte) []byte {
	if d.typefindDone {
		return plain
	}

	d.typefindBuf = append(d.typefindBuf, plain...)
	if len(d.typefindBuf) < typefindMinBytes {
		return nil
	}

	caps := d.prober.Probe(d.typefindBuf)
	if caps.Format == typefind.Unknown {
		return nil
	}

	d.typefindDone = true
	d.typefindCaps = caps
	out := d.typefindBuf
	d.typefindBuf = nil
	return out
}

// PeekPending returns the most recently decrypted block that Push is
// holding back pending Finish's PKCS#7 unpad, without consuming it.
// Used by trick-mode's partial chunk reads (internal/scheduler), which
// need the full plaintext prefix of a byte range that does not
// necessarily reach the fragment's true end, so Finish cannot be called
// yet.
func (d *Decryptor) PeekPending() []byte {
	return d.lastBlock
}

// Caps returns the detected container format, valid once TypefindDone is
// true.
func (d *Decryptor) Caps() typefind.Caps { return d.typefindCaps }

// TypefindDone reports whether typefinding has completed for this
// fragment.
func (d *Decryptor) TypefindDone() bool { return d.typefindDone }

// TypefindExceeded reports whether the 2 MiB typefind ceiling was
// reached with no format detected — the caller should fail the fragment
// with TypefindFailed.
func (d *Decryptor) TypefindExceeded() bool {
	return !d.typefindDone && len(d.typefindBuf) >= typefindMaxBytes
}

func stripPKCS7(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, corestreamerrors.New(corestreamerrors.StreamDecrypt, "fragment", "E203", "cannot unpad empty block")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n || padLen > stdaes.BlockSize {
		return nil, corestreamerrors.New(corestreamerrors.StreamDecrypt, "fragment", "E204", "invalid PKCS#7 padding length")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, corestreamerrors.New(corestreamerrors.StreamDecrypt, "fragment", "E205", "invalid PKCS#7 padding bytes")
		}
	}
	return data[:n-padLen], nil
}
