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

package dek

import (
	"bytes"
	"errors"
	"testing"

	"github.com/shardlock/shardlock/client/envelope"
	"github.com/shardlock/shardlock/client/kek"
	"github.com/shardlock/shardlock/client/shares"
)

func TestAccessorsBeforeInitializationFail(t *testing.T) {
	m := NewManager()
	if _, ok := m.State().(Uninitialized); !ok {
		t.Fatalf("NewManager().State() = %T, want Uninitialized", m.State())
	}
	if _, err := m.DEK(); !errors.Is(err, kek.ErrNotInitialized) {
		t.Errorf("DEK() = %v, want ErrNotInitialized", err)
	}
	if _, err := m.Shares(); !errors.Is(err, kek.ErrNotInitialized) {
		t.Errorf("Shares() = %v, want ErrNotInitialized", err)
	}
	if _, err := m.WrappedDEK(); !errors.Is(err, kek.ErrNotInitialized) {
		t.Errorf("WrappedDEK() = %v, want ErrNotInitialized", err)
	}
}

func TestCreateNewDEK(t *testing.T) {
	m := NewManager()
	if err := m.CreateNew(2, 3); err != nil {
		t.Fatalf("CreateNew(2, 3) = %v, want nil error", err)
	}
	d, err := m.DEK()
	if err != nil || !d.IsSet() {
		t.Fatalf("DEK() = (%v, %v), want a set key", d, err)
	}
	s, err := m.Shares()
	if err != nil || len(s) != 3 {
		t.Fatalf("Shares() = (%d shares, %v), want 3 shares", len(s), err)
	}
	wrapped, err := m.WrappedDEK()
	if err != nil || len(wrapped) != WrappedSize {
		t.Fatalf("WrappedDEK() = (%d bytes, %v), want %d bytes", len(wrapped), err, WrappedSize)
	}

	k, err := m.kek.KEK()
	if err != nil {
		t.Fatal(err)
	}
	if k.Equal(d) {
		t.Errorf("DEK equals KEK, want independent keys")
	}
}

func TestCreateNewInvalidParameters(t *testing.T) {
	m := NewManager()
	if err := m.CreateNew(4, 3); !errors.Is(err, shares.ErrInvalidParameters) {
		t.Errorf("CreateNew(4, 3) = %v, want ErrInvalidParameters", err)
	}
	if _, ok := m.State().(Uninitialized); !ok {
		t.Errorf("State() after failed CreateNew = %T, want Uninitialized", m.State())
	}
}

func TestRecoverRestoresOriginalDEK(t *testing.T) {
	for _, suite := range []envelope.Suite{envelope.AES256GCM, envelope.ChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			creator := NewManager(WithWrapSuite(suite))
			if err := creator.CreateNew(2, 3); err != nil {
				t.Fatal(err)
			}
			original, _ := creator.DEK()
			s, _ := creator.Shares()
			wrapped, _ := creator.WrappedDEK()

			m := NewManager(WithWrapSuite(suite))
			if err := m.Recover([]shares.Share{s[2], s[0]}, wrapped); err != nil {
				t.Fatalf("Recover() = %v, want nil error", err)
			}
			got, err := m.DEK()
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(original) {
				t.Errorf("Recover() produced a different DEK")
			}
		})
	}
}

func TestRecoverFailuresKeepState(t *testing.T) {
	creator := NewManager()
	if err := creator.CreateNew(2, 3); err != nil {
		t.Fatal(err)
	}
	s, _ := creator.Shares()
	wrapped, _ := creator.WrappedDEK()

	other := NewManager()
	if err := other.CreateNew(2, 3); err != nil {
		t.Fatal(err)
	}
	otherShares, _ := other.Shares()

	tampered := bytes.Clone(wrapped)
	tampered[len(tampered)-1] ^= 1

	for _, tc := range []struct {
		name    string
		shares  []shares.Share
		wrapped []byte
		wantErr error
	}{
		{"insufficient shares", s[:1], wrapped, shares.ErrReconstruction},
		{"shares of another KEK", otherShares[:2], wrapped, envelope.ErrAuthenticationFailure},
		{"tampered wrapped key", s[:2], tampered, envelope.ErrAuthenticationFailure},
		{"truncated wrapped key", s[:2], wrapped[:20], envelope.ErrAuthenticationFailure},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager()
			if err := m.Recover(s, wrapped); err != nil {
				t.Fatal(err)
			}
			before, _ := m.DEK()

			if err := m.Recover(tc.shares, tc.wrapped); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Recover() = %v, want %v", err, tc.wantErr)
			}
			after, err := m.DEK()
			if err != nil {
				t.Fatalf("DEK() after failed Recover = %v, want nil error", err)
			}
			if after != before || !after.IsSet() {
				t.Errorf("failed Recover changed the DEK state")
			}
		})
	}
}

func TestRegenerateMintsFreshDEK(t *testing.T) {
	creator := NewManager()
	if err := creator.CreateNew(2, 3); err != nil {
		t.Fatal(err)
	}
	original, _ := creator.DEK()
	s, _ := creator.Shares()

	m := NewManager()
	if err := m.Regenerate(s[1:]); err != nil {
		t.Fatalf("Regenerate() = %v, want nil error", err)
	}
	got, err := m.DEK()
	if err != nil {
		t.Fatal(err)
	}
	if got.Equal(original) {
		t.Errorf("Regenerate() returned the original DEK, want a fresh one")
	}

	// The fresh DEK is still recoverable through its own wrapped form.
	wrapped, _ := m.WrappedDEK()
	r := NewManager()
	if err := r.Recover(s[:2], wrapped); err != nil {
		t.Fatal(err)
	}
	recovered, _ := r.DEK()
	if !recovered.Equal(got) {
		t.Errorf("Recover(Regenerate's wrapped DEK) produced a different DEK")
	}
}

func TestFailedRegenerateKeepsPriorDEK(t *testing.T) {
	m := NewManager()
	if err := m.CreateNew(3, 5); err != nil {
		t.Fatal(err)
	}
	before, _ := m.DEK()
	s, _ := m.Shares()

	if err := m.Regenerate(s[:2]); !errors.Is(err, shares.ErrReconstruction) {
		t.Fatalf("Regenerate(2 of 3 needed) = %v, want ErrReconstruction", err)
	}
	after, err := m.DEK()
	if err != nil {
		t.Fatalf("DEK() after failed Regenerate = %v, want nil error", err)
	}
	if after != before || !after.IsSet() {
		t.Errorf("failed Regenerate changed the DEK")
	}
}

func TestCloseWipesKeys(t *testing.T) {
	m := NewManager()
	if err := m.CreateNew(1, 2); err != nil {
		t.Fatal(err)
	}
	d, _ := m.DEK()
	k, _ := m.kek.KEK()
	m.Close()
	if d.IsSet() || k.IsSet() {
		t.Errorf("keys still set after Close()")
	}
	if _, err := m.DEK(); !errors.Is(err, kek.ErrNotInitialized) {
		t.Errorf("DEK() after Close() = %v, want ErrNotInitialized", err)
	}
}
