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

package kek

import (
	"errors"
	"testing"

	"github.com/shardlock/shardlock/client/shares"
)

func TestAccessorsBeforeInitializationFail(t *testing.T) {
	m := NewManager()
	if _, ok := m.State().(Uninitialized); !ok {
		t.Fatalf("NewManager().State() = %T, want Uninitialized", m.State())
	}
	if _, err := m.KEK(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("KEK() = %v, want ErrNotInitialized", err)
	}
	if _, err := m.Shares(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Shares() = %v, want ErrNotInitialized", err)
	}
}

func TestCreateNewThenReconstruct(t *testing.T) {
	creator := NewManager()
	s, err := creator.CreateNew(2, 3)
	if err != nil {
		t.Fatalf("CreateNew(2, 3) = %v, want nil error", err)
	}
	if len(s) != 3 {
		t.Fatalf("CreateNew(2, 3) returned %d shares, want 3", len(s))
	}
	original, err := creator.KEK()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := creator.State().(Ready); !ok {
		t.Errorf("State() after CreateNew = %T, want Ready", creator.State())
	}

	for _, subset := range [][]shares.Share{{s[0], s[1]}, {s[0], s[2]}, {s[1], s[2]}, s} {
		m := NewManager()
		if err := m.Reconstruct(subset); err != nil {
			t.Fatalf("Reconstruct(%d shares) = %v, want nil error", len(subset), err)
		}
		got, err := m.KEK()
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(original) {
			t.Errorf("Reconstruct() produced a different KEK")
		}
		gotShares, err := m.Shares()
		if err != nil {
			t.Fatal(err)
		}
		if len(gotShares) != len(subset) {
			t.Errorf("Shares() returned %d shares, want %d", len(gotShares), len(subset))
		}
	}
}

func TestCreateNewInvalidParametersKeepsState(t *testing.T) {
	m := NewManager()
	if _, err := m.CreateNew(3, 2); !errors.Is(err, shares.ErrInvalidParameters) {
		t.Fatalf("CreateNew(3, 2) = %v, want ErrInvalidParameters", err)
	}
	if _, ok := m.State().(Uninitialized); !ok {
		t.Errorf("State() after failed CreateNew = %T, want Uninitialized", m.State())
	}

	if _, err := m.CreateNew(1, 1); err != nil {
		t.Fatal(err)
	}
	before, _ := m.KEK()
	if _, err := m.CreateNew(0, 3); !errors.Is(err, shares.ErrInvalidParameters) {
		t.Fatalf("CreateNew(0, 3) = %v, want ErrInvalidParameters", err)
	}
	after, err := m.KEK()
	if err != nil {
		t.Fatalf("KEK() after failed CreateNew = %v, want nil error", err)
	}
	if after != before || !after.IsSet() {
		t.Errorf("failed CreateNew replaced or wiped the existing KEK")
	}
}

func TestFailedReconstructClearsState(t *testing.T) {
	s, err := NewManager().CreateNew(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager()
	if err := m.Reconstruct(s[:2]); err != nil {
		t.Fatal(err)
	}
	old, _ := m.KEK()

	if err := m.Reconstruct(s[:1]); !errors.Is(err, shares.ErrReconstruction) {
		t.Fatalf("Reconstruct(1 share) = %v, want ErrReconstruction", err)
	}
	if _, ok := m.State().(Uninitialized); !ok {
		t.Errorf("State() after failed Reconstruct = %T, want Uninitialized", m.State())
	}
	if _, err := m.KEK(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("KEK() after failed Reconstruct = %v, want ErrNotInitialized", err)
	}
	if old.IsSet() {
		t.Errorf("previous KEK was not wiped after failed Reconstruct")
	}
}

func TestReconstructWithSharesOfAnotherKEKFails(t *testing.T) {
	a, err := NewManager().CreateNew(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewManager().CreateNew(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager()
	if err := m.Reconstruct([]shares.Share{a[0], b[1]}); !errors.Is(err, shares.ErrReconstruction) {
		t.Errorf("Reconstruct(mixed) = %v, want ErrReconstruction", err)
	}
}

func TestCloseWipesKEK(t *testing.T) {
	m := NewManager(WithEngine(shares.NewEngine(shares.WithField(shares.GF16))))
	if _, err := m.CreateNew(2, 2); err != nil {
		t.Fatal(err)
	}
	k, _ := m.KEK()
	m.Close()
	if k.IsSet() {
		t.Errorf("KEK still set after Close()")
	}
	if _, err := m.KEK(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("KEK() after Close() = %v, want ErrNotInitialized", err)
	}
}
