package biometric

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the template master key.
const KeySize = 32

// sealedVersion is the first byte of every sealed template. It is part of
// the AAD, so tampering with it fails authentication.
const sealedVersion byte = 0x01

// SealedOverhead is 1 (version) + 24 (nonce) + 16 (tag).
const SealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Modality separates the face and fingerprint key derivation paths.
type Modality string

const (
	ModalityFace        Modality = "face"
	ModalityFingerprint Modality = "fingerprint"
)

// Sealer encrypts biometric templates at rest with XChaCha20-Poly1305.
// Blob layout:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag]
//
// The AAD is the version byte followed by the student number, so a blob
// copied onto another identity's row does not open.
type Sealer struct {
	aeads map[Modality]cipher.AEAD
}

func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("template key is %d bytes, want %d", len(masterKey), KeySize)
	}
	s := &Sealer{aeads: make(map[Modality]cipher.AEAD, 2)}
	for _, m := range []Modality{ModalityFace, ModalityFingerprint} {
		key := make([]byte, KeySize)
		r := hkdf.New(sha256.New, masterKey, nil, []byte("citadel.template."+string(m)+".v1"))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", m, err)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
		}
		s.aeads[m] = aead
	}
	return s, nil
}

// ParseKey decodes a base64 template master key.
func ParseKey(encoded string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode template key: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("template key is %d bytes, want %d", len(b), KeySize)
	}
	return b, nil
}

func (s *Sealer) Seal(m Modality, studentNo string, plaintext []byte) ([]byte, error) {
	aead, ok := s.aeads[m]
	if !ok {
		return nil, fmt.Errorf("unknown modality %q", m)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), SealedOverhead+len(plaintext))
	out[0] = sealedVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, aad(sealedVersion, studentNo)), nil
}

func (s *Sealer) Open(m Modality, studentNo string, blob []byte) ([]byte, error) {
	aead, ok := s.aeads[m]
	if !ok {
		return nil, fmt.Errorf("unknown modality %q", m)
	}
	if len(blob) < SealedOverhead {
		return nil, fmt.Errorf("sealed template is %d bytes, minimum is %d", len(blob), SealedOverhead)
	}
	if blob[0] != sealedVersion {
		return nil, fmt.Errorf("sealed template version %d is not supported", blob[0])
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	pt, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], aad(blob[0], studentNo))
	if err != nil {
		return nil, fmt.Errorf("open sealed template: %w", err)
	}
	return pt, nil
}

func aad(version byte, studentNo string) []byte {
	b := make([]byte, 0, 1+len(studentNo))
	b = append(b, version)
	return append(b, studentNo...)
}
