// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package envelope

import (
	"crypto/cipher"
	"fmt"
	"strings"

	"github.com/google/tink/go/aead/subtle"
	"github.com/google/tink/go/subtle/random"
	"golang.org/x/crypto/chacha20poly1305"
)

// Suite is an AEAD construction with a 256-bit key and a 96-bit nonce.
type Suite int

const (
	// AES256GCM is AES-256 in Galois/Counter Mode.
	AES256GCM Suite = iota
	// ChaCha20Poly1305 is the RFC 8439 construction.
	ChaCha20Poly1305
)

func (s Suite) String() string {
	switch s {
	case AES256GCM:
		return "aes-256-gcm"
	case ChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("unknown suite %d", int(s))
	}
}

// ParseSuite maps a configuration name to a Suite. The empty string selects AES256GCM.
func ParseSuite(name string) (Suite, error) {
	switch strings.ToLower(name) {
	case "", "aes-256-gcm", "aes256gcm":
		return AES256GCM, nil
	case "chacha20-poly1305", "chacha20poly1305":
		return ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unknown cipher suite %q", name)
	}
}

type aead interface {
	seal(plaintext []byte) (nonce, ciphertext []byte, err error)
	open(nonce, ciphertext []byte) ([]byte, error)
}

func (s Suite) newAEAD(key []byte) (aead, error) {
	switch s {
	case AES256GCM:
		a, err := subtle.NewAESGCM(key)
		if err != nil {
			return nil, err
		}
		return &tinkGCM{a: a}, nil
	case ChaCha20Poly1305:
		a, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		return &stdAEAD{a: a}, nil
	default:
		return nil, fmt.Errorf("unknown cipher suite %d", int(s))
	}
}

// tinkGCM adapts Tink's AES-GCM, which emits iv || ciphertext || tag.
type tinkGCM struct {
	a *subtle.AESGCM
}

func (t *tinkGCM) seal(plaintext []byte) ([]byte, []byte, error) {
	out, err := t.a.Encrypt(plaintext, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(out) < subtle.AESGCMIVSize+subtle.AESGCMTagSize {
		return nil, nil, fmt.Errorf("ciphertext too short: %d bytes", len(out))
	}
	return out[:subtle.AESGCMIVSize:subtle.AESGCMIVSize], out[subtle.AESGCMIVSize:], nil
}

func (t *tinkGCM) open(nonce, ciphertext []byte) ([]byte, error) {
	in := make([]byte, 0, len(nonce)+len(ciphertext))
	in = append(in, nonce...)
	in = append(in, ciphertext...)
	return t.a.Decrypt(in, nil)
}

// stdAEAD wraps a cipher.AEAD and draws nonces from Tink's random source.
type stdAEAD struct {
	a cipher.AEAD
}

func (s *stdAEAD) seal(plaintext []byte) ([]byte, []byte, error) {
	nonce := random.GetRandomBytes(uint32(s.a.NonceSize()))
	return nonce, s.a.Seal(nil, nonce, plaintext, nil), nil
}

func (s *stdAEAD) open(nonce, ciphertext []byte) ([]byte, error) {
	return s.a.Open(nil, nonce, ciphertext, nil)
}
