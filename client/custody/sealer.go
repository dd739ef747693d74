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

// Package custody stores shares in files, optionally sealed to the custodian that is meant to
// hold them: an RSA key pair or a Cloud KMS key.
package custody

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"strings"

	glog "github.com/golang/glog"
	"github.com/shardlock/shardlock/client/cloudkms"
	"github.com/shardlock/shardlock/client/confidentialspace"
)

// RSAFingerprintPrefix identifies an RSA key, by fingerprint, in a custodian URI.
const RSAFingerprintPrefix = "rsa-fingerprint://"

// Sealer protects share bytes for one custodian.
type Sealer interface {
	// URI identifies the custodian. It is empty for shares stored in the clear.
	URI() string
	Seal(ctx context.Context, share []byte) ([]byte, error)
	Unseal(ctx context.Context, sealed []byte) ([]byte, error)
}

// PlainSealer leaves shares in the clear.
type PlainSealer struct{}

// URI returns the empty custodian URI.
func (PlainSealer) URI() string { return "" }

// Seal returns a copy of share.
func (PlainSealer) Seal(_ context.Context, share []byte) ([]byte, error) {
	return append([]byte(nil), share...), nil
}

// Unseal returns a copy of sealed.
func (PlainSealer) Unseal(_ context.Context, sealed []byte) ([]byte, error) {
	return append([]byte(nil), sealed...), nil
}

// RSASealer seals shares with RSA-OAEP-SHA256 to the key whose public key has the given
// fingerprint. Sealing needs the public key file, unsealing the private key file.
type RSASealer struct {
	Fingerprint string
	Keys        Keys
}

// URI returns rsa-fingerprint://<fingerprint>.
func (s *RSASealer) URI() string { return RSAFingerprintPrefix + s.Fingerprint }

// Seal encrypts share to the custodian's public key.
func (s *RSASealer) Seal(_ context.Context, share []byte) ([]byte, error) {
	key, err := publicKeyForRSAFingerprint(s.Fingerprint, s.Keys)
	if err != nil {
		return nil, fmt.Errorf("failed to find public key for RSA fingerprint: %w", err)
	}
	sealed, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, share, nil)
	if err != nil {
		return nil, fmt.Errorf("error sealing share: %v", err)
	}
	return sealed, nil
}

// Unseal decrypts sealed with the custodian's private key.
func (s *RSASealer) Unseal(_ context.Context, sealed []byte) ([]byte, error) {
	key, err := privateKeyForRSAFingerprint(s.Fingerprint, s.Keys)
	if err != nil {
		return nil, fmt.Errorf("failed to find private key for RSA fingerprint: %w", err)
	}
	share, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("error unsealing share: %v", err)
	}
	return share, nil
}

// KMSSealer seals shares with a Cloud KMS key.
type KMSSealer struct {
	KeyName string
	Client  cloudkms.Client
}

// URI returns gcp-kms://<key name>.
func (s *KMSSealer) URI() string { return cloudkms.KeyURIPrefix + s.KeyName }

// Seal checks that the key is usable, then encrypts share with it.
func (s *KMSSealer) Seal(ctx context.Context, share []byte) ([]byte, error) {
	pl, err := cloudkms.CheckKey(ctx, s.Client, s.KeyName)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("Sealing share with %v key %v", pl, s.KeyName)
	return cloudkms.WrapShare(ctx, s.Client, cloudkms.WrapOpts{Share: share, KeyName: s.KeyName})
}

// Unseal decrypts sealed with the Cloud KMS key.
func (s *KMSSealer) Unseal(ctx context.Context, sealed []byte) ([]byte, error) {
	return cloudkms.UnwrapShare(ctx, s.Client, cloudkms.UnwrapOpts{Share: sealed, KeyName: s.KeyName})
}

// Resolver maps custodian URIs to Sealers.
type Resolver struct {
	Keys Keys
	// KMS creates Cloud KMS clients on demand. Required only for gcp-kms:// custodians.
	KMS *cloudkms.ClientFactory
	// KMSCredentials are JSON credentials for Cloud KMS; empty uses the default credentials.
	KMSCredentials string
	// Workload supplies per-key credentials inside Confidential Space. Optional.
	Workload *confidentialspace.Workload
	// Mode selects which Workload credentials apply.
	Mode confidentialspace.Mode
}

// SealerForURI returns the Sealer for a custodian URI.
func (r *Resolver) SealerForURI(ctx context.Context, uri string) (Sealer, error) {
	switch {
	case uri == "":
		return PlainSealer{}, nil

	case strings.HasPrefix(uri, RSAFingerprintPrefix):
		fp := strings.TrimPrefix(uri, RSAFingerprintPrefix)
		if fp == "" {
			return nil, fmt.Errorf("custodian %q has an empty fingerprint", uri)
		}
		return &RSASealer{Fingerprint: fp, Keys: r.Keys}, nil

	case strings.HasPrefix(uri, cloudkms.KeyURIPrefix):
		name, err := cloudkms.KeyNameFromURI(uri)
		if err != nil {
			return nil, err
		}
		if r.KMS == nil {
			return nil, fmt.Errorf("custodian %v needs Cloud KMS, but no KMS client factory is configured", uri)
		}
		creds := r.KMSCredentials
		if c := r.Workload.FindMatchingCredentials(uri, r.Mode); c != "" {
			creds = c
		}
		client, err := r.KMS.Client(ctx, creds)
		if err != nil {
			return nil, err
		}
		return &KMSSealer{KeyName: name, Client: client}, nil

	default:
		return nil, fmt.Errorf("unsupported custodian URI %q", uri)
	}
}
