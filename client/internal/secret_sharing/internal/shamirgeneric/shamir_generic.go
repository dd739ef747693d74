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

// Package shamirgeneric implements shamir secret sharing with a generic group structure.
package shamirgeneric

import (
	"fmt"
	"io"

	"github.com/shardlock/shardlock/client/internal/secret_sharing/internal/field"
	"github.com/shardlock/shardlock/client/internal/secret_sharing/secrets"
)

// SplitSecret splits a secret into n shares where t or more shares can be combined to reconstruct
// the original secret using shamir secret sharing. Random coefficients are read from rand.
func SplitSecret(metadata secrets.Metadata, secret []byte, gf field.GaloisField, rand io.Reader) (secrets.Split, error) {
	if err := validateSplitInput(metadata, secret, gf); err != nil {
		return secrets.Split{}, err
	}
	threshold := metadata.Threshold
	numShares := metadata.NumShares

	xVals := make([]field.Element, numShares)
	shares := make([]secrets.Share, numShares)
	for i := range shares {
		var err error
		// x = 0 would reveal the secret, so evaluation points start at 1.
		if xVals[i], err = gf.CreateElement(i + 1); err != nil {
			return secrets.Split{}, err
		}
		shares[i].X = i + 1
		shares[i].Value = make([]byte, 0, field.EncodedLen(gf, len(secret)))
	}

	// Each subsecret is the constant term of its own polynomial of degree threshold - 1:
	// subsecret + R_1 * x^1 + R_2 * x^2 + ... + R_(t-1) * x^(t-1)
	// shares[i] holds the evaluation of every polynomial at x = i + 1.
	coefficients := make([]field.Element, threshold)
	for _, subsecret := range gf.DecodeElements(secret) {
		coefficients[0] = subsecret
		for i := 1; i < threshold; i++ {
			var err error
			if coefficients[i], err = gf.NewRandom(rand); err != nil {
				return secrets.Split{}, err
			}
		}
		for i, x := range xVals {
			y, err := evaluatePolynomial(coefficients, x, gf)
			if err != nil {
				return secrets.Split{}, err
			}
			shares[i].Value = append(shares[i].Value, y.Bytes()...)
		}
	}
	return secrets.Split{
		Shares:    shares,
		Metadata:  metadata,
		SecretLen: len(secret),
	}, nil
}

// evaluates a polynomial at `x` with Horner's rule, where `coefficients` take the form:
// f(x) = c[n-1] * x^(n-1) + c[n-2] * x^(n-2) + ... + c[1] * x^1 + c[0]
func evaluatePolynomial(coefficients []field.Element, x field.Element, gf field.GaloisField) (field.Element, error) {
	sum, err := gf.CreateElement(0)
	if err != nil {
		return nil, err
	}
	for i := len(coefficients) - 1; i > 0; i-- {
		sum = sum.Add(coefficients[i]).Multiply(x)
	}
	return sum.Add(coefficients[0]), nil
}

// Reconstruct reconstructs a secret from at least threshold shares using shamir secret sharing.
// Every supplied share takes part in the interpolation, so a share that does not lie on the
// same polynomial changes the result.
func Reconstruct(splitSecret secrets.Split, gf field.GaloisField) ([]byte, error) {
	if err := validateReconstructInput(splitSecret, gf); err != nil {
		return nil, err
	}
	shares := splitSecret.Shares
	xVals := make([]field.Element, len(shares))
	for i, x := range splitSecret.Xs() {
		var err error
		if xVals[i], err = gf.CreateElement(x); err != nil {
			return nil, err
		}
	}
	// The Lagrange coefficients only depend on the x coordinates, so they are shared by
	// every subsecret.
	coefficients, err := lagrangeCoefficients(xVals, gf)
	if err != nil {
		return nil, err
	}
	numSubSecrets := len(shares[0].Value) / gf.ElementSize()
	subsecrets := make([]field.Element, numSubSecrets)
	yVals := make([]field.Element, len(shares))
	for i := range subsecrets {
		for j, s := range shares {
			if yVals[j], err = gf.ReadElement(s.Value, i); err != nil {
				return nil, err
			}
		}
		if subsecrets[i], err = interpolatePolynomial(coefficients, yVals, gf); err != nil {
			return nil, err
		}
	}
	return gf.EncodeElements(subsecrets, splitSecret.SecretLen)
}

// interpolatePolynomial recovers f(0) from the points (x[i], y[i]):
// ∑i y[i] * lagrange_coefficient[i]
func interpolatePolynomial(lagCoeff []field.Element, yVals []field.Element, gf field.GaloisField) (field.Element, error) {
	if len(lagCoeff) != len(yVals) {
		return nil, fmt.Errorf("invalid lagrange coefficients")
	}
	sum, err := gf.CreateElement(0)
	if err != nil {
		return nil, err
	}
	for i, y := range yVals {
		sum = sum.Add(y.Multiply(lagCoeff[i]))
	}
	return sum, nil
}

// lagrangeCoefficients returns the basis polynomials evaluated at 0:
// ∏j≠i ( x[j] / ( x[j] - x[i] ) )
// A single point yields the coefficient 1.
func lagrangeCoefficients(x []field.Element, gf field.GaloisField) ([]field.Element, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("must have at least 1 value")
	}
	out := make([]field.Element, len(x))
	for i := range x {
		var err error
		if out[i], err = gf.CreateElement(1); err != nil {
			return nil, err
		}
		for j := range x {
			if i == j {
				continue
			}
			denom, err := x[j].Subtract(x[i]).Inverse()
			if err != nil {
				return nil, fmt.Errorf("all shares should be unique points: %v", err)
			}
			out[i] = out[i].Multiply(x[j]).Multiply(denom)
		}
	}
	return out, nil
}

func validateSplitInput(metadata secrets.Metadata, secret []byte, gf field.GaloisField) error {
	if len(secret) == 0 {
		return fmt.Errorf("secret must not be empty")
	}
	if metadata.NumShares < 1 {
		return fmt.Errorf("numShares must be at least 1")
	}
	if metadata.NumShares >= gf.Order() {
		return fmt.Errorf("numShares must be smaller than the field order %d", gf.Order())
	}
	if metadata.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1")
	}
	if metadata.Threshold > metadata.NumShares {
		return fmt.Errorf("threshold should be smaller than or equal to numShares")
	}
	if metadata.Field != gf.FieldID() {
		return fmt.Errorf("field ID mismatch")
	}
	return nil
}

func validateReconstructInput(splitSecret secrets.Split, gf field.GaloisField) error {
	md := splitSecret.Metadata
	if md.Field != gf.FieldID() {
		return fmt.Errorf("field ID mismatch")
	}
	if md.Threshold < 1 {
		return fmt.Errorf("threshold should be at least 1")
	}
	if md.NumShares < md.Threshold {
		return fmt.Errorf("threshold larger than number of shares")
	}
	if len(splitSecret.Shares) < md.Threshold {
		return fmt.Errorf("not enough shares to reconstruct the secret, need at least %d, got: %d", md.Threshold, len(splitSecret.Shares))
	}
	if splitSecret.SecretLen < 1 {
		return fmt.Errorf("secret length must be positive")
	}
	valueLen := field.EncodedLen(gf, splitSecret.SecretLen)
	seen := make(map[int]bool, len(splitSecret.Shares))
	for _, s := range splitSecret.Shares {
		if s.X <= 0 || s.X >= gf.Order() {
			return fmt.Errorf("invalid X value %d", s.X)
		}
		if seen[s.X] {
			return fmt.Errorf("duplicate X value %d", s.X)
		}
		seen[s.X] = true
		if len(s.Value) != valueLen {
			return fmt.Errorf("share %d has length %d, want %d", s.X, len(s.Value), valueLen)
		}
	}
	return nil
}
