// Package cryptoutil provides the AES-CTR link-encryption primitive used by
// the packet codec (pkg/wire) to encrypt RIST payloads in place, and the
// PBKDF2 key derivation used to turn a configured passphrase into an AES
// session key.
//
// The nonce/counter construction mirrors the SRTP approach of keying the
// AES-CTR counter block from a per-stream identifier and a monotonically
// increasing packet index rather than a random nonce, so encryption is
// deterministic given (flowID, seq) and never needs a nonce exchange.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" //nolint:gosec // spec-mandated PBKDF2-SHA1 derivation, not used for integrity
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the AES key length in bytes: 128 or 256 bit link encryption.
type KeySize int

const (
	KeySize128 KeySize = 16
	KeySize256 KeySize = 32
)

// pbkdf2Iterations matches the fixed iteration count spec.md mandates for
// deriving a link-encryption key from a configured passphrase.
const pbkdf2Iterations = 100

// saltSimple and saltMain are fixed per-profile salts: spec.md requires a
// fixed salt (no exchange), distinguished by profile so the same passphrase
// used on both profiles does not collide to the same session key.
var (
	saltSimple = []byte("rist-simple-profile-salt")
	saltMain   = []byte("rist-main-profile-salt")
)

// DeriveKey derives an AES session key from a passphrase via PBKDF2-SHA1.
func DeriveKey(passphrase string, size KeySize, mainProfile bool) []byte {
	salt := saltSimple
	if mainProfile {
		salt = saltMain
	}
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, int(size), sha1.New)
}

// Cipher wraps an AES block cipher configured for CTR-mode link encryption.
type Cipher struct {
	block cipher.Block
}

// NewCipher builds a Cipher from a derived or directly-supplied key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new aes cipher: %w", err)
	}
	return &Cipher{block: block}, nil
}

// counter builds the 16-byte AES-CTR initial counter block from the flow ID
// and sequence number, per spec.md §4.1: "Nonce is derived from (flow_id, seq)".
func counter(flowID, seq uint32) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint32(iv[0:4], flowID)
	binary.BigEndian.PutUint32(iv[4:8], seq)
	// Remaining 8 bytes stay zero: (flowID, seq) uniquely determines the
	// counter stream for the lifetime of a flow, since seq never repeats
	// within a 32-bit wraparound window that the reassembler tracks.
	return iv
}

// XORInPlace encrypts or decrypts payload in place (CTR mode is symmetric).
func (c *Cipher) XORInPlace(flowID, seq uint32, payload []byte) {
	stream := cipher.NewCTR(c.block, counter(flowID, seq))
	stream.XORKeyStream(payload, payload)
}
