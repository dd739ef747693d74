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

// Package dek manages the Data Encryption Key used for file content. A DEK can only be minted
// while a KEK is established, and every DEK is wrapped under that KEK so it can be recovered
// later from a quorum of KEK shares.
package dek

import (
	"fmt"

	"github.com/awnumar/memguard"
	glog "github.com/golang/glog"
	"github.com/shardlock/shardlock/client/envelope"
	"github.com/shardlock/shardlock/client/kek"
	"github.com/shardlock/shardlock/client/keys"
	"github.com/shardlock/shardlock/client/shares"
)

// WrappedSize is the size of a DEK wrapped under a KEK: nonce || ciphertext || tag.
const WrappedSize = envelope.NonceSize + keys.Size + envelope.TagSize

// State is the state of a Manager: Uninitialized or Ready.
type State interface {
	isState()
}

// Uninitialized holds no key.
type Uninitialized struct{}

// Ready holds a DEK, the shares of the KEK that gated it and the DEK wrapped under that KEK.
type Ready struct {
	DEK     *keys.Secret
	Shares  []shares.Share
	Wrapped []byte
}

func (Uninitialized) isState() {}
func (Ready) isState()         {}

// Manager owns at most one DEK and the KEK Manager that gates it. It is not safe for
// concurrent use.
type Manager struct {
	kek   *kek.Manager
	suite envelope.Suite
	state State
}

// Option configures a Manager.
type Option func(*Manager)

// WithKEKManager sets the KEK Manager, for instance one sharing over GF(2^16).
func WithKEKManager(k *kek.Manager) Option {
	return func(m *Manager) { m.kek = k }
}

// WithWrapSuite sets the AEAD used to wrap the DEK under the KEK.
func WithWrapSuite(s envelope.Suite) Option {
	return func(m *Manager) { m.suite = s }
}

// NewManager returns an Uninitialized Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{kek: kek.NewManager(), suite: envelope.AES256GCM, state: Uninitialized{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// CreateNew establishes a new KEK split into total shares, then mints an independent DEK and
// wraps it under the KEK. On failure the previous state is kept.
func (m *Manager) CreateNew(quorum, total int) error {
	s, err := m.kek.CreateNew(quorum, total)
	if err != nil {
		return err
	}
	return m.mint(s)
}

// Regenerate reconstructs the KEK from shares and mints a new DEK. The new DEK cannot decrypt
// anything encrypted under an earlier DEK; use Recover for that. On failure the previous DEK
// state is kept.
func (m *Manager) Regenerate(s []shares.Share) error {
	if err := m.kek.Reconstruct(s); err != nil {
		return err
	}
	return m.mint(s)
}

// Recover reconstructs the KEK from shares and unwraps a DEK previously produced by CreateNew
// or Regenerate. On failure the previous DEK state is kept.
func (m *Manager) Recover(s []shares.Share, wrapped []byte) error {
	if err := m.kek.Reconstruct(s); err != nil {
		return err
	}
	k, err := m.kek.KEK()
	if err != nil {
		return err
	}
	d, err := unwrap(k, wrapped, m.suite)
	if err != nil {
		glog.Warningf("Failed to unwrap DEK with the reconstructed KEK: %v", err)
		return err
	}
	m.set(Ready{DEK: d, Shares: s, Wrapped: append([]byte(nil), wrapped...)})
	glog.Infof("Recovered DEK from %d KEK shares", len(s))
	return nil
}

func (m *Manager) mint(s []shares.Share) error {
	k, err := m.kek.KEK()
	if err != nil {
		return err
	}
	d := keys.Generate()
	wrapped, err := wrap(k, d, m.suite)
	if err != nil {
		d.Wipe()
		return err
	}
	m.set(Ready{DEK: d, Shares: s, Wrapped: wrapped})
	glog.Infof("Minted new DEK under a %d-of-%d KEK", s[0].Quorum, s[0].Total)
	return nil
}

func (m *Manager) set(r Ready) {
	m.reset()
	r.Shares = append([]shares.Share(nil), r.Shares...)
	m.state = r
}

func (m *Manager) ready() (Ready, error) {
	r, ok := m.state.(Ready)
	if !ok {
		return Ready{}, kek.ErrNotInitialized
	}
	return r, nil
}

// DEK returns the current key. The Manager keeps ownership; callers must not wipe it.
func (m *Manager) DEK() (*keys.Secret, error) {
	r, err := m.ready()
	if err != nil {
		return nil, err
	}
	return r.DEK, nil
}

// Shares returns the KEK shares associated with the current DEK.
func (m *Manager) Shares() ([]shares.Share, error) {
	r, err := m.ready()
	if err != nil {
		return nil, err
	}
	return append([]shares.Share(nil), r.Shares...), nil
}

// WrappedDEK returns the current DEK wrapped under the KEK, for storage next to the ciphertext.
func (m *Manager) WrappedDEK() ([]byte, error) {
	r, err := m.ready()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), r.Wrapped...), nil
}

func (m *Manager) reset() {
	if r, ok := m.state.(Ready); ok {
		r.DEK.Wipe()
	}
	m.state = Uninitialized{}
}

// Close wipes the DEK and the KEK.
func (m *Manager) Close() {
	m.reset()
	m.kek.Close()
}

func wrap(k, d *keys.Secret, suite envelope.Suite) ([]byte, error) {
	c, err := envelope.New(k, envelope.WithSuite(suite))
	if err != nil {
		return nil, err
	}
	nonce, ct, err := c.Encrypt(d.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to wrap DEK: %w", err)
	}
	return append(nonce, ct...), nil
}

func unwrap(k *keys.Secret, wrapped []byte, suite envelope.Suite) (*keys.Secret, error) {
	if len(wrapped) != WrappedSize {
		return nil, fmt.Errorf("%w: wrapped DEK has length %d, expected %d", envelope.ErrAuthenticationFailure, len(wrapped), WrappedSize)
	}
	c, err := envelope.New(k, envelope.WithSuite(suite))
	if err != nil {
		return nil, err
	}
	plaintext, err := c.Decrypt(wrapped[:envelope.NonceSize], wrapped[envelope.NonceSize:])
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(plaintext)
	return keys.FromBytes(plaintext)
}
