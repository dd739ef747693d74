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

// Package kek manages a Key Encryption Key whose custody is split into threshold shares.
// The KEK only lives in memory: it is either freshly generated or reconstructed from a quorum
// of its shares.
package kek

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	glog "github.com/golang/glog"
	"github.com/shardlock/shardlock/client/keys"
	"github.com/shardlock/shardlock/client/shares"
)

// ErrNotInitialized is returned by accessors used before a key was created or reconstructed.
var ErrNotInitialized = errors.New("key not initialized")

// State is the state of a Manager: Uninitialized or Ready.
type State interface {
	isState()
}

// Uninitialized holds no key.
type Uninitialized struct{}

// Ready holds a KEK and the shares it was split into or reconstructed from.
type Ready struct {
	KEK    *keys.Secret
	Shares []shares.Share
}

func (Uninitialized) isState() {}
func (Ready) isState()         {}

// Manager owns at most one KEK. It is not safe for concurrent use.
type Manager struct {
	engine *shares.Engine
	state  State
}

// Option configures a Manager.
type Option func(*Manager)

// WithEngine sets the secret sharing engine, for instance to share over GF(2^16).
func WithEngine(e *shares.Engine) Option {
	return func(m *Manager) { m.engine = e }
}

// NewManager returns an Uninitialized Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{engine: shares.NewEngine(), state: Uninitialized{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// CreateNew generates a fresh KEK and splits it into total shares with the given quorum. On
// failure the previous state is kept.
func (m *Manager) CreateNew(quorum, total int) ([]shares.Share, error) {
	k := keys.Generate()
	s, err := m.engine.Split(k.Bytes(), quorum, total)
	if err != nil {
		k.Wipe()
		return nil, err
	}
	m.reset()
	m.state = Ready{KEK: k, Shares: s}
	glog.Infof("Created new KEK with a %d-of-%d quorum (split %v)", quorum, total, s[0].Generation)
	return append([]shares.Share(nil), s...), nil
}

// Reconstruct combines the shares into the KEK. On failure any previous key is wiped, the
// Manager becomes Uninitialized and the error is returned.
func (m *Manager) Reconstruct(s []shares.Share) error {
	m.reset()
	secret, err := m.engine.Combine(s)
	if err != nil {
		glog.Warningf("Failed to reconstruct KEK from %d shares: %v", len(s), err)
		return err
	}
	defer memguard.WipeBytes(secret)

	k, err := keys.FromBytes(secret)
	if err != nil {
		return fmt.Errorf("%w: %v", shares.ErrReconstruction, err)
	}
	m.state = Ready{KEK: k, Shares: append([]shares.Share(nil), s...)}
	glog.Infof("Reconstructed KEK from %d shares", len(s))
	return nil
}

func (m *Manager) ready() (Ready, error) {
	r, ok := m.state.(Ready)
	if !ok {
		return Ready{}, ErrNotInitialized
	}
	return r, nil
}

// KEK returns the current key. The Manager keeps ownership; callers must not wipe it.
func (m *Manager) KEK() (*keys.Secret, error) {
	r, err := m.ready()
	if err != nil {
		return nil, err
	}
	return r.KEK, nil
}

// Shares returns the shares of the current key.
func (m *Manager) Shares() ([]shares.Share, error) {
	r, err := m.ready()
	if err != nil {
		return nil, err
	}
	return append([]shares.Share(nil), r.Shares...), nil
}

func (m *Manager) reset() {
	if r, ok := m.state.(Ready); ok {
		r.KEK.Wipe()
	}
	m.state = Uninitialized{}
}

// Close wipes the key and returns the Manager to Uninitialized.
func (m *Manager) Close() {
	m.reset()
}
