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

// Package testutil contains fakes and fixtures for unit tests.
package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

const gcpKMSPrefix = "gcp-kms://"

var (
	// TestHSMKEKName is a test key name for an HSM-protected key.
	TestHSMKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/testHsm"
	// TestHSMKEKURI is the custodian URI for TestHSMKEKName.
	TestHSMKEKURI = gcpKMSPrefix + TestHSMKEKName

	// TestSoftwareKEKName is a test key name for a software-protected key.
	TestSoftwareKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/testSoftware"
	// TestSoftwareKEKURI is the custodian URI for TestSoftwareKEKName.
	TestSoftwareKEKURI = gcpKMSPrefix + TestSoftwareKEKName

	// TestExternalKEKName is a test key name for an externally managed key.
	TestExternalKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/testExternal"
	// TestExternalKEKURI is the custodian URI for TestExternalKEKName.
	TestExternalKEKURI = gcpKMSPrefix + TestExternalKEKName
)

func crc32c(data []byte) uint32 {
	return crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
}

// CreateEnabledCryptoKey creates a fake CryptoKey with an enabled primary version.
func CreateEnabledCryptoKey(protectionLevel kmspb.ProtectionLevel, name string) *kmspb.CryptoKey {
	return &kmspb.CryptoKey{
		Name: name,
		Primary: &kmspb.CryptoKeyVersion{
			Name:            name + "/cryptoKeyVersions/1",
			State:           kmspb.CryptoKeyVersion_ENABLED,
			ProtectionLevel: protectionLevel,
		},
	}
}

func fakeProtectionLevel(name string) kmspb.ProtectionLevel {
	switch name {
	case TestHSMKEKName:
		return kmspb.ProtectionLevel_HSM
	case TestSoftwareKEKName:
		return kmspb.ProtectionLevel_SOFTWARE
	case TestExternalKEKName:
		return kmspb.ProtectionLevel_EXTERNAL
	default:
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED
	}
}

func marker(name string) byte {
	switch name {
	case TestHSMKEKName:
		return 'H'
	case TestSoftwareKEKName:
		return 'S'
	default:
		return 'U'
	}
}

// FakeKMSWrap returns a reversible stand-in for Cloud KMS encryption: the input reversed,
// followed by a marker byte identifying the key.
func FakeKMSWrap(unwrapped []byte, name string) []byte {
	wrapped := make([]byte, 0, len(unwrapped)+1)
	for i := len(unwrapped) - 1; i >= 0; i-- {
		wrapped = append(wrapped, unwrapped[i])
	}
	return append(wrapped, marker(name))
}

// FakeKMSUnwrap reverses FakeKMSWrap. Input wrapped under a different key yields garbage.
func FakeKMSUnwrap(wrapped []byte, name string) []byte {
	if len(wrapped) == 0 || wrapped[len(wrapped)-1] != marker(name) {
		return []byte("nonsenseee")
	}
	body := wrapped[:len(wrapped)-1]
	unwrapped := make([]byte, 0, len(body))
	for i := len(body) - 1; i >= 0; i-- {
		unwrapped = append(unwrapped, body[i])
	}
	return unwrapped
}

// FakeKeyManagementClient is a fake Cloud KMS Key Management client. Unset funcs fall back to
// the fake wrap and unwrap above.
type FakeKeyManagementClient struct {
	kms.KeyManagementClient

	GetCryptoKeyFunc func(context.Context, *kmspb.GetCryptoKeyRequest, ...gax.CallOption) (*kmspb.CryptoKey, error)
	EncryptFunc      func(context.Context, *kmspb.EncryptRequest, ...gax.CallOption) (*kmspb.EncryptResponse, error)
	DecryptFunc      func(context.Context, *kmspb.DecryptRequest, ...gax.CallOption) (*kmspb.DecryptResponse, error)

	// Closed reports whether Close was called.
	Closed bool
}

// GetCryptoKey calls GetCryptoKeyFunc if set, otherwise returns an enabled key whose
// protection level depends on the test key name.
func (f *FakeKeyManagementClient) GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest, opts ...gax.CallOption) (*kmspb.CryptoKey, error) {
	if f.GetCryptoKeyFunc != nil {
		return f.GetCryptoKeyFunc(ctx, req, opts...)
	}
	return CreateEnabledCryptoKey(fakeProtectionLevel(req.GetName()), req.GetName()), nil
}

// ValidEncryptResponse returns a fake successful response for Cloud KMS Encrypt.
func ValidEncryptResponse(req *kmspb.EncryptRequest) *kmspb.EncryptResponse {
	wrapped := FakeKMSWrap(req.GetPlaintext(), req.GetName())
	return &kmspb.EncryptResponse{
		Name:                    req.GetName(),
		Ciphertext:              wrapped,
		CiphertextCrc32C:        wrapperspb.Int64(int64(crc32c(wrapped))),
		VerifiedPlaintextCrc32C: true,
	}
}

// Encrypt calls EncryptFunc if set, otherwise returns ValidEncryptResponse.
func (f *FakeKeyManagementClient) Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error) {
	if f.EncryptFunc != nil {
		return f.EncryptFunc(ctx, req, opts...)
	}
	return ValidEncryptResponse(req), nil
}

// ValidDecryptResponse returns a fake successful response for Cloud KMS Decrypt.
func ValidDecryptResponse(req *kmspb.DecryptRequest) *kmspb.DecryptResponse {
	unwrapped := FakeKMSUnwrap(req.GetCiphertext(), req.GetName())
	return &kmspb.DecryptResponse{
		Plaintext:       unwrapped,
		PlaintextCrc32C: wrapperspb.Int64(int64(crc32c(unwrapped))),
	}
}

// Decrypt calls DecryptFunc if set, otherwise returns ValidDecryptResponse.
func (f *FakeKeyManagementClient) Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error) {
	if f.DecryptFunc != nil {
		return f.DecryptFunc(ctx, req, opts...)
	}
	return ValidDecryptResponse(req), nil
}

// Close records that the client was closed.
func (f *FakeKeyManagementClient) Close() error {
	f.Closed = true
	return nil
}

// RSAKeyPair is a generated RSA key written to PEM files.
type RSAKeyPair struct {
	PublicKeyFile  string
	PrivateKeyFile string
	// Fingerprint is the base64 SHA-256 digest of the DER public key.
	Fingerprint string
}

// WriteRSAKeyPair generates a 2048-bit RSA key and writes it to dir as a PKIX "PUBLIC KEY" and a
// PKCS#1 "RSA PRIVATE KEY" PEM file.
func WriteRSAKeyPair(t testing.TB, dir, name string) RSAKeyPair {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() = %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("x509.MarshalPKIXPublicKey() = %v", err)
	}

	pair := RSAKeyPair{
		PublicKeyFile:  filepath.Join(dir, name+".pub.pem"),
		PrivateKeyFile: filepath.Join(dir, name+".pem"),
	}
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(pair.PublicKeyFile, pub, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pair.PrivateKeyFile, priv, 0600); err != nil {
		t.Fatal(err)
	}

	sum := sha256.Sum256(der)
	pair.Fingerprint = base64.StdEncoding.EncodeToString(sum[:])
	return pair
}

// CreateTempTokenFile writes a fake attestation token and returns its path.
func CreateTempTokenFile(t testing.TB) string {
	t.Helper()
	tokenFile := filepath.Join(t.TempDir(), "attestation_verifier_claims_token")
	if err := os.WriteFile(tokenFile, []byte("test token"), 0600); err != nil {
		t.Fatalf("Error creating token file at %v: %v", tokenFile, err)
	}
	return tokenFile
}
