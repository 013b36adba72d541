package itv2

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// EncryptionType selects the key-agreement mode announced in the first
// OpenSession message.
type EncryptionType uint8

const (
	EncryptionNone EncryptionType = iota
	EncryptionType1
	EncryptionType2
)

// Encryption owns the per-session AES-128-ECB keys. One key per direction,
// activated exactly once during the handshake. Until a direction is
// activated its traffic passes through unmodified.
type Encryption struct {
	typ EncryptionType

	// Type 1 material: quadruple-concatenated 8-digit strings parsed as hex.
	accessKey   []byte
	identityKey []byte

	// Type 2 material: 32-hex-digit access code parsed to 16 bytes.
	accessCode []byte

	inbound  []byte
	outbound []byte
}

// NewType1Encryption builds a Type 1 handler from an 8-digit access code
// and an 8-digit integration identifier.
func NewType1Encryption(accessCode, identifier string) (*Encryption, error) {
	access, err := quadKey(accessCode)
	if err != nil {
		return nil, fmt.Errorf("access code: %v", err)
	}
	identity, err := quadKey(identifier)
	if err != nil {
		return nil, fmt.Errorf("integration identifier: %v", err)
	}
	return &Encryption{typ: EncryptionType1, accessKey: access, identityKey: identity}, nil
}

// NewType2Encryption builds a Type 2 handler from a 32-hex-digit access code.
func NewType2Encryption(accessCode string) (*Encryption, error) {
	key, err := hex.DecodeString(accessCode)
	if err != nil || len(key) != 16 {
		return nil, &CryptoError{Reason: "type 2 access code must be 32 hex digits"}
	}
	return &Encryption{typ: EncryptionType2, accessCode: key}, nil
}

// quadKey turns an 8-digit string into a 16-byte key by concatenating it
// four times and reading the result as hex.
func quadKey(s string) ([]byte, error) {
	if len(s) != 8 {
		return nil, &CryptoError{Reason: "expected 8 digits"}
	}
	key, err := hex.DecodeString(s + s + s + s)
	if err != nil {
		return nil, &CryptoError{Reason: "non-hex digits in key material"}
	}
	return key, nil
}

func (e *Encryption) Type() EncryptionType {
	return e.typ
}

// ConfigureOutboundEncryption derives the key for packets we send from the
// peer's initializer. One-shot. Only the leading 48 (Type 1) or 16 (Type 2)
// bytes are used; an initializer decoded from an encrypted RequestAccess
// carries the cipher zero padding after them.
func (e *Encryption) ConfigureOutboundEncryption(initializer []byte) error {
	if e.outbound != nil {
		return &CryptoError{Reason: "outbound encryption already active"}
	}

	switch e.typ {
	case EncryptionType1:
		if len(initializer) < 48 {
			return &CryptoError{Reason: "type 1 initializer must be 48 bytes"}
		}
		check := initializer[:16]
		plain, err := ecb(e.identityKey, initializer[16:48], false)
		if err != nil {
			return err
		}
		even, odd := deinterleave(plain)
		if !bytes.Equal(even, check) {
			return &CryptoError{Reason: "check byte mismatch"}
		}
		e.outbound = odd
	case EncryptionType2:
		if len(initializer) < 16 {
			return &CryptoError{Reason: "type 2 initializer must be 16 bytes"}
		}
		key, err := ecb(e.accessCode, initializer[:16], true)
		if err != nil {
			return err
		}
		e.outbound = key
	default:
		return &CryptoError{Reason: "no encryption type configured"}
	}
	return nil
}

// ConfigureInboundEncryption activates the key for packets we receive and
// returns the initializer to announce it to the peer. One-shot.
func (e *Encryption) ConfigureInboundEncryption() ([]byte, error) {
	if e.inbound != nil {
		return nil, &CryptoError{Reason: "inbound encryption already active"}
	}

	switch e.typ {
	case EncryptionType1:
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("failed to sample key material: %v", err)
		}
		check, key := deinterleave(seed)
		cipher, err := ecb(e.accessKey, seed, true)
		if err != nil {
			return nil, err
		}
		e.inbound = key
		return append(check, cipher...), nil
	case EncryptionType2:
		seed := make([]byte, 16)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("failed to sample key material: %v", err)
		}
		key, err := ecb(e.accessCode, seed, true)
		if err != nil {
			return nil, err
		}
		e.inbound = key
		return seed, nil
	default:
		return nil, &CryptoError{Reason: "no encryption type configured"}
	}
}

// Encrypt applies the outbound key to a payload, zero-padding to the block
// size. Passthrough until the outbound direction is activated.
func (e *Encryption) Encrypt(plain []byte) ([]byte, error) {
	if e == nil || e.outbound == nil {
		return plain, nil
	}
	return ecb(e.outbound, pad(plain), true)
}

// Decrypt applies the inbound key. Passthrough until activated. The zero
// padding is left in place; fixed record layouts ignore trailing bytes,
// while a trailing bytes-rest field keeps them.
func (e *Encryption) Decrypt(data []byte) ([]byte, error) {
	if e == nil || e.inbound == nil {
		return data, nil
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, &CryptoError{Reason: "ciphertext not block aligned"}
	}
	return ecb(e.inbound, data, false)
}

// ecb runs AES in ECB mode over data, which must be block aligned.
// crypto/cipher does not ship ECB; the panels do.
func ecb(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %v", err)
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, &CryptoError{Reason: "input not block aligned"}
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		if encrypt {
			block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		} else {
			block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		}
	}
	return out, nil
}

func pad(data []byte) []byte {
	rem := len(data) % aes.BlockSize
	if rem == 0 {
		return data
	}
	return append(data[:len(data):len(data)], make([]byte, aes.BlockSize-rem)...)
}

// deinterleave splits a buffer into its even-indexed and odd-indexed bytes.
func deinterleave(data []byte) (even, odd []byte) {
	even = make([]byte, 0, len(data)/2)
	odd = make([]byte, 0, len(data)/2)
	for i, b := range data {
		if i%2 == 0 {
			even = append(even, b)
		} else {
			odd = append(odd, b)
		}
	}
	return even, odd
}
