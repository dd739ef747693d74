// Copyright 2021 Google LLC
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

// Package envelope encrypts byte strings under a 256-bit key with an AEAD, returning the random
// nonce and the ciphertext (with its authentication tag) separately.
package envelope

import (
	"errors"
	"fmt"

	"github.com/shardlock/shardlock/client/keys"
)

const (
	// NonceSize is the size of the nonce generated for every encryption.
	NonceSize = 12
	// TagSize is the size of the authentication tag appended to every ciphertext.
	TagSize = 16
)

var (
	// ErrKeyNotSet is returned when a cipher is used without key material.
	ErrKeyNotSet = errors.New("encryption key not set")

	// ErrAuthenticationFailure is returned when a ciphertext does not verify under the given
	// key and nonce.
	ErrAuthenticationFailure = errors.New("message authentication failed")

	// ErrNonceReuse is returned by a tracking Cipher that is about to emit a nonce twice.
	ErrNonceReuse = errors.New("nonce reused under the same key")
)

// Cipher encrypts and decrypts under one key. A nil or zero Cipher reports ErrKeyNotSet.
type Cipher struct {
	suite   Suite
	key     *keys.Secret
	aead    aead
	tracker *nonceTracker
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithSuite selects the AEAD construction. The default is AES256GCM.
func WithSuite(s Suite) Option {
	return func(c *Cipher) { c.suite = s }
}

// WithNonceTracking makes the Cipher remember every nonce it emits and refuse to emit one twice.
func WithNonceTracking() Option {
	return func(c *Cipher) { c.tracker = newNonceTracker() }
}

// New returns a Cipher bound to key. The Cipher keeps a reference to key, so wiping the key
// disables the Cipher.
func New(key *keys.Secret, opts ...Option) (*Cipher, error) {
	if !key.IsSet() {
		return nil, ErrKeyNotSet
	}
	c := &Cipher{suite: AES256GCM, key: key}
	for _, opt := range opts {
		opt(c)
	}
	var err error
	if c.aead, err = c.suite.newAEAD(key.Bytes()); err != nil {
		return nil, fmt.Errorf("unable to create %v cipher: %v", c.suite, err)
	}
	return c, nil
}

func (c *Cipher) ready() error {
	if c == nil || c.aead == nil || !c.key.IsSet() {
		return ErrKeyNotSet
	}
	return nil
}

// Suite returns the AEAD construction of c.
func (c *Cipher) Suite() Suite {
	if c == nil {
		return AES256GCM
	}
	return c.suite
}

// Encrypt encrypts plaintext with a fresh random nonce and empty associated data.
func (c *Cipher) Encrypt(plaintext []byte) (nonce, ciphertext []byte, err error) {
	if err := c.ready(); err != nil {
		return nil, nil, err
	}
	nonce, ciphertext, err = c.aead.seal(plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt: %v", err)
	}
	if c.tracker != nil {
		if err := c.tracker.record(nonce); err != nil {
			return nil, nil, err
		}
	}
	return nonce, ciphertext, nil
}

// Decrypt verifies and decrypts ciphertext. No plaintext is returned unless the tag verifies.
func (c *Cipher) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize || len(ciphertext) < TagSize {
		return nil, ErrAuthenticationFailure
	}
	plaintext, err := c.aead.open(nonce, ciphertext)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

// Encrypt encrypts plaintext under key with AES-256-GCM.
func Encrypt(key *keys.Secret, plaintext []byte) (nonce, ciphertext []byte, err error) {
	c, err := New(key)
	if err != nil {
		return nil, nil, err
	}
	return c.Encrypt(plaintext)
}

// Decrypt decrypts an AES-256-GCM ciphertext produced by Encrypt.
func Decrypt(key *keys.Secret, nonce, ciphertext []byte) ([]byte, error) {
	c, err := New(key)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(nonce, ciphertext)
}
