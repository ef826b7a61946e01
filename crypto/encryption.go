package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagOverhead is the AES-GCM authentication tag length in bytes.
	TagOverhead = 16

	// AADContent is the associated-data role for the encrypted note body.
	AADContent = "memo-content"
	// aadAttachmentPrefix prefixes the logical name for attachment ciphertexts.
	aadAttachmentPrefix = "attachment:"

	streamChunkSize = 64 * 1024
)

// ErrCiphertextTooLarge indicates a streamed ciphertext crossed its ceiling.
var ErrCiphertextTooLarge = errors.New("crypto: ciphertext exceeds size limit")

// ErrPlaintextTooLarge indicates a decrypted payload crossed its ceiling.
var ErrPlaintextTooLarge = errors.New("crypto: plaintext exceeds size limit")

// AADAttachment returns the associated-data role for one attachment, bound
// to its logical name so a valid ciphertext cannot be replayed into a
// different slot.
func AADAttachment(name string) []byte {
	return []byte(aadAttachmentPrefix + name)
}

// Encrypt encrypts plaintext with AES-256-GCM under the given associated
// data and returns ciphertext plus a fresh random 12-byte nonce.
func Encrypt(key, plaintext, associatedData []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, associatedData)
	return ciphertext, nonce, nil
}

// Decrypt decrypts an AES-256-GCM ciphertext. Tag mismatch, truncated
// input, wrong key, or wrong associated data fail outright; a partial
// plaintext is never returned.
func Decrypt(key, nonce, ciphertext, associatedData []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: got %d want %d", len(nonce), aead.NonceSize())
	}
	if len(ciphertext) < TagOverhead {
		return nil, errors.New("ciphertext shorter than authentication tag")
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("decrypt ciphertext: %w", err)
	}

	return plaintext, nil
}

// DecryptStream decrypts a ciphertext arriving incrementally on src and
// writes the plaintext to dst in chunks.
//
// Both ceilings are enforced while bytes flow: the read loop fails the
// moment more than maxCiphertext bytes have been seen, so a hostile peer
// cannot force buffering past the ceiling, and the plaintext size is
// checked against maxPlaintext before any decrypted byte is produced.
// Returns the number of plaintext bytes written.
func DecryptStream(key, nonce, associatedData []byte, src io.Reader, dst io.Writer, maxCiphertext, maxPlaintext int64) (int64, error) {
	if maxCiphertext <= 0 || maxPlaintext < 0 {
		return 0, errors.New("invalid stream size limits")
	}

	var buf bytes.Buffer
	chunk := make([]byte, streamChunkSize)
	var seen int64
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			seen += int64(n)
			if seen > maxCiphertext {
				return 0, fmt.Errorf("%w: more than %d bytes received", ErrCiphertextTooLarge, maxCiphertext)
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read ciphertext stream: %w", err)
		}
	}

	if implied := seen - TagOverhead; implied > maxPlaintext {
		return 0, fmt.Errorf("%w: %d bytes exceed limit %d", ErrPlaintextTooLarge, implied, maxPlaintext)
	}

	plaintext, err := Decrypt(key, nonce, buf.Bytes(), associatedData)
	if err != nil {
		return 0, err
	}
	if int64(len(plaintext)) > maxPlaintext {
		return 0, fmt.Errorf("%w: %d bytes exceed limit %d", ErrPlaintextTooLarge, len(plaintext), maxPlaintext)
	}

	var written int64
	for off := 0; off < len(plaintext); off += streamChunkSize {
		end := off + streamChunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		n, err := dst.Write(plaintext[off:end])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write plaintext stream: %w", err)
		}
	}

	return written, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: got %d want %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}
