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

// Package shares splits 256-bit secrets into M-of-N threshold shares and combines them back.
//
// Every split shares the secret followed by a short digest bound to the split's generation ID.
// The digest is only visible after interpolation, so combining shares from different splits,
// or with a corrupted share, fails instead of silently producing a wrong secret.
package shares

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	glog "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/finitefield"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/secrets"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/shamir"
	"github.com/shardlock/shardlock/client/keys"
)

const (
	// SecretBytes is the size of the secrets handled by the engine.
	SecretBytes = keys.Size

	// MaxShares is the largest supported number of shares in a split.
	MaxShares = 16

	digestBytes = 4
)

var (
	// ErrInvalidParameters is returned by Split for out of range quorum parameters or a
	// secret of the wrong size.
	ErrInvalidParameters = errors.New("invalid secret sharing parameters")

	// ErrReconstruction is returned by Combine when the shares are insufficient, inconsistent
	// or fail the embedded digest.
	ErrReconstruction = errors.New("unable to reconstruct secret from shares")

	// ErrMalformedShare is returned when a share token cannot be decoded.
	ErrMalformedShare = fmt.Errorf("%w: malformed share", ErrReconstruction)
)

// Field selects the finite field the secret is shared over.
type Field = finitefield.ID

const (
	// GF8 shares the secret byte by byte over GF(2^8). It is the default.
	GF8 = finitefield.GF8
	// GF16 shares the secret in 16-bit words over GF(2^16).
	GF16 = finitefield.GF16
)

// ParseField maps a configuration name to a Field.
func ParseField(name string) (Field, error) {
	return finitefield.Parse(name)
}

// Share is one point of a split secret plus the metadata needed to combine it.
type Share struct {
	// Index is the evaluation point, in [1, Total].
	Index int
	// Quorum is the number of shares needed to reconstruct the secret.
	Quorum int
	// Total is the number of shares created by the split.
	Total int
	// Field is the finite field of the split.
	Field Field
	// Generation identifies the split. Shares from different generations never combine.
	Generation uuid.UUID
	// Value holds the evaluations of the sharing polynomials.
	Value []byte
}

// Engine splits and combines secrets. The zero value is not usable; use NewEngine.
type Engine struct {
	field Field
	rand  io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithField selects the finite field used by Split.
func WithField(f Field) Option {
	return func(e *Engine) { e.field = f }
}

// WithRandom sets the source of polynomial coefficients and generation IDs.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.rand = r }
}

// NewEngine returns an Engine sharing over GF(2^8) with crypto/rand unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{field: GF8, rand: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Split splits secret with the default engine.
func Split(secret []byte, quorum, total int) ([]Share, error) {
	return defaultEngine.Split(secret, quorum, total)
}

// Combine combines shares with the default engine.
func Combine(shares []Share) ([]byte, error) {
	return defaultEngine.Combine(shares)
}

func validateParameters(quorum, total int) error {
	if total < 1 || total > MaxShares {
		return fmt.Errorf("%w: total shares %d must be in [1, %d]", ErrInvalidParameters, total, MaxShares)
	}
	if quorum < 1 {
		return fmt.Errorf("%w: quorum %d must be at least 1", ErrInvalidParameters, quorum)
	}
	if quorum > total {
		return fmt.Errorf("%w: quorum %d is larger than total shares %d", ErrInvalidParameters, quorum, total)
	}
	return nil
}

func digest(generation uuid.UUID, secret []byte) []byte {
	h := sha256.New()
	h.Write(generation[:])
	h.Write(secret)
	return h.Sum(nil)[:digestBytes]
}

// Split returns total shares of secret, any quorum of which reconstruct it. The shares are
// ordered by index.
func (e *Engine) Split(secret []byte, quorum, total int) ([]Share, error) {
	if err := validateParameters(quorum, total); err != nil {
		return nil, err
	}
	if len(secret) != SecretBytes {
		return nil, fmt.Errorf("%w: secret has length %d, expected %d", ErrInvalidParameters, len(secret), SecretBytes)
	}
	if quorum == 1 {
		glog.Warningf("Splitting with a quorum of 1: every share can reconstruct the secret on its own")
	}

	generation, err := uuid.NewRandomFromReader(e.rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate split ID: %v", err)
	}

	extended := make([]byte, 0, SecretBytes+digestBytes)
	extended = append(extended, secret...)
	extended = append(extended, digest(generation, secret)...)
	defer memguard.WipeBytes(extended)

	md := secrets.Metadata{Field: e.field, NumShares: total, Threshold: quorum}
	split, err := shamir.SplitSecretWithRand(md, extended, e.rand)
	if err != nil {
		return nil, fmt.Errorf("error splitting secret: %v", err)
	}

	out := make([]Share, 0, total)
	for _, s := range split.Shares {
		out = append(out, Share{
			Index:      s.X,
			Quorum:     quorum,
			Total:      total,
			Field:      e.field,
			Generation: generation,
			Value:      s.Value,
		})
	}
	glog.V(1).Infof("Split secret into %d shares with quorum %d (generation %v, %v)", total, quorum, generation, e.field)
	return out, nil
}

// distinct checks that all shares belong to the same split and drops exact duplicates.
func distinct(shares []Share) ([]Share, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: no shares provided", ErrReconstruction)
	}
	ref := shares[0]
	if err := validateParameters(ref.Quorum, ref.Total); err != nil {
		return nil, fmt.Errorf("%w: share %d: %v", ErrReconstruction, ref.Index, err)
	}
	valueLen, err := shamir.ShareLen(ref.Field, SecretBytes+digestBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconstruction, err)
	}

	seen := make(map[int][]byte, len(shares))
	out := make([]Share, 0, len(shares))
	for _, s := range shares {
		switch {
		case s.Generation != ref.Generation:
			return nil, fmt.Errorf("%w: share %d belongs to split %v, not %v", ErrReconstruction, s.Index, s.Generation, ref.Generation)
		case s.Quorum != ref.Quorum || s.Total != ref.Total:
			return nil, fmt.Errorf("%w: share %d is %d-of-%d, expected %d-of-%d", ErrReconstruction, s.Index, s.Quorum, s.Total, ref.Quorum, ref.Total)
		case s.Field != ref.Field:
			return nil, fmt.Errorf("%w: share %d uses field %v, expected %v", ErrReconstruction, s.Index, s.Field, ref.Field)
		case s.Index < 1 || s.Index > s.Total:
			return nil, fmt.Errorf("%w: share index %d out of range [1, %d]", ErrReconstruction, s.Index, s.Total)
		case len(s.Value) != valueLen:
			return nil, fmt.Errorf("%w: share %d has length %d, expected %d", ErrReconstruction, s.Index, len(s.Value), valueLen)
		}
		if prev, ok := seen[s.Index]; ok {
			if !bytes.Equal(prev, s.Value) {
				return nil, fmt.Errorf("%w: conflicting values for share %d", ErrReconstruction, s.Index)
			}
			continue
		}
		seen[s.Index] = s.Value
		out = append(out, s)
	}
	if len(out) < ref.Quorum {
		return nil, fmt.Errorf("%w: have %d distinct shares, need %d", ErrReconstruction, len(out), ref.Quorum)
	}
	return out, nil
}

// Combine reconstructs the secret from a quorum or more of shares of one split. Every supplied
// share is used, so a single inconsistent share makes the whole call fail.
func (e *Engine) Combine(shares []Share) ([]byte, error) {
	usable, err := distinct(shares)
	if err != nil {
		return nil, err
	}
	ref := usable[0]

	split := secrets.Split{
		Metadata:  secrets.Metadata{Field: ref.Field, NumShares: ref.Total, Threshold: ref.Quorum},
		SecretLen: SecretBytes + digestBytes,
		Shares:    make([]secrets.Share, 0, len(usable)),
	}
	for _, s := range usable {
		split.Shares = append(split.Shares, secrets.Share{X: s.Index, Value: s.Value})
	}
	extended, err := shamir.Reconstruct(split)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconstruction, err)
	}
	defer memguard.WipeBytes(extended)

	secret, sum := extended[:SecretBytes], extended[SecretBytes:]
	if subtle.ConstantTimeCompare(sum, digest(ref.Generation, secret)) != 1 {
		return nil, fmt.Errorf("%w: checksum mismatch, shares are corrupted or from different splits", ErrReconstruction)
	}
	glog.V(1).Infof("Combined %d shares of generation %v", len(usable), ref.Generation)
	return bytes.Clone(secret), nil
}
