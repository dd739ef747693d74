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

// Utility functions for dealing with RSA keys and fingerprints.

package custody

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// Keys lists the PEM files searched for RSA custodian keys.
type Keys struct {
	PublicKeyFiles  []string
	PrivateKeyFiles []string
}

// Fingerprint returns the base64 SHA-256 digest of the DER-encoded public key.
func Fingerprint(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return fingerprintDER(der), nil
}

func fingerprintDER(der []byte) string {
	sha := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sha[:])
}

func readPEM(path, wantType string) (*pem.Block, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	block, _ := pem.Decode(keyBytes)
	if block == nil || block.Type != wantType {
		return nil, fmt.Errorf("failed to decode PEM block containing %v from %v", wantType, path)
	}
	return block, nil
}

// PublicKeyFingerprint returns the fingerprint of the RSA public key in a PEM file.
func PublicKeyFingerprint(path string) (string, error) {
	block, err := readPEM(path, "PUBLIC KEY")
	if err != nil {
		return "", err
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse public key from PEM: %v", err)
	}
	if _, ok := pub.(*rsa.PublicKey); !ok {
		return "", fmt.Errorf("%v does not hold an RSA public key", path)
	}
	return fingerprintDER(block.Bytes), nil
}

// publicKeyForRSAFingerprint searches keys.PublicKeyFiles for the key with the given
// fingerprint.
func publicKeyForRSAFingerprint(fingerprint string, keys Keys) (*rsa.PublicKey, error) {
	for _, path := range keys.PublicKeyFiles {
		block, err := readPEM(path, "PUBLIC KEY")
		if err != nil {
			return nil, err
		}
		if fingerprintDER(block.Bytes) != fingerprint {
			continue
		}

		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key from PEM: %v", err)
		}
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%v does not hold an RSA public key", path)
		}
		return key, nil
	}

	return nil, fmt.Errorf("no RSA public key found for fingerprint: %s", fingerprint)
}

// privateKeyForRSAFingerprint searches keys.PrivateKeyFiles for the key whose public half has
// the given fingerprint.
func privateKeyForRSAFingerprint(fingerprint string, keys Keys) (*rsa.PrivateKey, error) {
	for _, path := range keys.PrivateKeyFiles {
		block, err := readPEM(path, "RSA PRIVATE KEY")
		if err != nil {
			return nil, err
		}

		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS1 private key from PEM: %v", err)
		}

		fp, err := Fingerprint(&key.PublicKey)
		if err != nil {
			return nil, err
		}
		if fp == fingerprint {
			return key, nil
		}
	}

	return nil, fmt.Errorf("no RSA private key found for fingerprint: %s", fingerprint)
}
