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

// Package cloudkms seals and unseals share material with Cloud KMS keys.
package cloudkms

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/shardlock/shardlock/constants"
	"google.golang.org/api/option"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

// KeyURIPrefix identifies a Cloud KMS key in a custodian URI.
const KeyURIPrefix = "gcp-kms://"

// Client is the subset of the Cloud KMS client used for share custody.
type Client interface {
	GetCryptoKey(context.Context, *kmspb.GetCryptoKeyRequest, ...gax.CallOption) (*kmspb.CryptoKey, error)
	Encrypt(context.Context, *kmspb.EncryptRequest, ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(context.Context, *kmspb.DecryptRequest, ...gax.CallOption) (*kmspb.DecryptResponse, error)
	Close() error
}

func crc32c(data []byte) uint32 {
	return crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
}

// KeyNameFromURI strips the gcp-kms:// prefix from uri.
func KeyNameFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, KeyURIPrefix) {
		return "", fmt.Errorf("%v does not have the expected URI prefix, want %v", uri, KeyURIPrefix)
	}
	name := strings.TrimPrefix(uri, KeyURIPrefix)
	if name == "" {
		return "", fmt.Errorf("%v does not name a key", uri)
	}
	return name, nil
}

// CheckKey verifies that the primary version of keyName is enabled and held in Cloud KMS
// itself, returning its protection level. Externally managed keys are not supported.
func CheckKey(ctx context.Context, client Client, keyName string) (kmspb.ProtectionLevel, error) {
	if client == nil {
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED, fmt.Errorf("nil client specified")
	}
	cryptoKey, err := client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: keyName})
	if err != nil {
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED, fmt.Errorf("error retrieving key metadata: %v", err)
	}

	primary := cryptoKey.GetPrimary()
	if primary.GetState() != kmspb.CryptoKeyVersion_ENABLED {
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED, fmt.Errorf("primary version of %v is not enabled", keyName)
	}

	switch pl := primary.GetProtectionLevel(); pl {
	case kmspb.ProtectionLevel_SOFTWARE, kmspb.ProtectionLevel_HSM:
		return pl, nil
	default:
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED, fmt.Errorf("unsupported protection level %v for %v", pl, keyName)
	}
}

// WrapOpts are the arguments to WrapShare.
type WrapOpts struct {
	Share   []byte
	KeyName string
	RPCOpts []gax.CallOption
}

// WrapShare encrypts a share with a Cloud KMS key, verifying CRC32C checksums in both
// directions.
func WrapShare(ctx context.Context, client Client, opts WrapOpts) ([]byte, error) {
	if client == nil {
		return nil, fmt.Errorf("nil client specified")
	}
	req := &kmspb.EncryptRequest{
		Name:            opts.KeyName,
		Plaintext:       opts.Share,
		PlaintextCrc32C: wrapperspb.Int64(int64(crc32c(opts.Share))),
	}

	result, err := client.Encrypt(ctx, req, opts.RPCOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %v", err)
	}

	if !result.GetVerifiedPlaintextCrc32C() {
		return nil, fmt.Errorf("Encrypt: request corrupted in-transit")
	}
	if int64(crc32c(result.GetCiphertext())) != result.GetCiphertextCrc32C().GetValue() {
		return nil, fmt.Errorf("Encrypt: response corrupted in-transit")
	}
	return result.GetCiphertext(), nil
}

// UnwrapOpts are the arguments to UnwrapShare.
type UnwrapOpts struct {
	Share   []byte
	KeyName string
	RPCOpts []gax.CallOption
}

// UnwrapShare decrypts a share sealed by WrapShare.
func UnwrapShare(ctx context.Context, client Client, opts UnwrapOpts) ([]byte, error) {
	if client == nil {
		return nil, fmt.Errorf("nil client specified")
	}
	req := &kmspb.DecryptRequest{
		Name:             opts.KeyName,
		Ciphertext:       opts.Share,
		CiphertextCrc32C: wrapperspb.Int64(int64(crc32c(opts.Share))),
	}

	result, err := client.Decrypt(ctx, req, opts.RPCOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt ciphertext: %v", err)
	}

	if int64(crc32c(result.GetPlaintext())) != result.GetPlaintextCrc32C().GetValue() {
		return nil, fmt.Errorf("Decrypt: response corrupted in-transit")
	}
	return result.GetPlaintext(), nil
}

// ClientFactory hands out one KMS client per set of JSON credentials.
type ClientFactory struct {
	CredsMap map[string]Client
	Version  string

	newKMSClient func(context.Context, ...option.ClientOption) (*kms.KeyManagementClient, error)
}

// NewClientFactory returns a factory whose clients report version in their user agent.
func NewClientFactory(version string) *ClientFactory {
	return &ClientFactory{
		CredsMap:     make(map[string]Client),
		Version:      version,
		newKMSClient: kms.NewKeyManagementClient,
	}
}

func (m *ClientFactory) userAgent() string {
	if m.Version == "" {
		return constants.Product + "/dev"
	}
	return constants.Product + "/" + m.Version
}

func (m *ClientFactory) createClient(ctx context.Context, credentials string) (Client, error) {
	opts := []option.ClientOption{option.WithUserAgent(m.userAgent())}
	if len(credentials) != 0 {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentials)))
	}
	client, err := m.newKMSClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Client returns the client for credentials, creating it on first use. Empty credentials
// select Application Default Credentials.
func (m *ClientFactory) Client(ctx context.Context, credentials string) (Client, error) {
	if m.CredsMap == nil {
		m.CredsMap = make(map[string]Client)
	}
	client, ok := m.CredsMap[credentials]
	if !ok {
		var err error
		client, err = m.createClient(ctx, credentials)
		if err != nil {
			return nil, fmt.Errorf("error creating new KMS client: %v", err)
		}
		m.CredsMap[credentials] = client
	}
	return client, nil
}

// Close closes every client the factory created.
func (m *ClientFactory) Close() error {
	for creds, client := range m.CredsMap {
		if err := client.Close(); err != nil {
			return err
		}
		delete(m.CredsMap, creds)
	}
	return nil
}
