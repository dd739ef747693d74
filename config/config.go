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

// Package config loads the shardlock YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	glog "github.com/golang/glog"
	"github.com/shardlock/shardlock/client/confidentialspace"
	"github.com/shardlock/shardlock/client/custody"
	"github.com/shardlock/shardlock/client/envelope"
	"github.com/shardlock/shardlock/client/shares"
	"github.com/shardlock/shardlock/constants"
	"sigs.k8s.io/yaml"
)

// Custodian names who holds one share.
type Custodian struct {
	// URI is empty for a share kept in the clear, rsa-fingerprint://<fingerprint> or
	// gcp-kms://<key name>.
	URI string `json:"uri,omitempty"`
}

// AsymmetricKeys lists PEM files holding RSA custodian keys.
type AsymmetricKeys struct {
	PublicKeyFiles  []string `json:"public_key_files,omitempty"`
	PrivateKeyFiles []string `json:"private_key_files,omitempty"`
}

// Config is the shardlock configuration file.
type Config struct {
	Quorum             int            `json:"quorum"`
	TotalShares        int            `json:"total_shares"`
	CipherSuite        string         `json:"cipher_suite,omitempty"`
	ShareDir           string         `json:"share_dir,omitempty"`
	Field              string         `json:"field,omitempty"`
	Custodians         []Custodian    `json:"custodians,omitempty"`
	AsymmetricKeys     AsymmetricKeys `json:"asymmetric_keys,omitempty"`
	KMSCredentialsFile string         `json:"kms_credentials_file,omitempty"`
	// ConfidentialSpace lists workload identity pools to use for matching KMS custodians
	// when running in Confidential Space.
	ConfidentialSpace []confidentialspace.KMSCredential `json:"confidential_space_credentials,omitempty"`
}

// Default returns a 2-of-3 AES-256-GCM configuration writing plain shares to the current
// directory.
func Default() *Config {
	return &Config{
		Quorum:      2,
		TotalShares: 3,
		CipherSuite: envelope.AES256GCM.String(),
		ShareDir:    ".",
		Field:       "gf8",
	}
}

// DefaultPath returns the location of the configuration file in the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory location: %v", err)
	}
	return filepath.Join(dir, constants.Product, constants.DefaultConfigName), nil
}

// Load reads the configuration at path over the defaults and validates it. A missing file at
// the default path yields the defaults; a missing file anywhere else is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	yamlBytes, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if def, derr := DefaultPath(); derr == nil && def == path {
			glog.V(1).Infof("No config file at %v, using defaults", path)
			return cfg, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	if err := yaml.UnmarshalStrict(yamlBytes, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %v: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %v: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the quorum parameters, the cipher suite, the field and the custodian list.
func (c *Config) Validate() error {
	if c.Quorum < 1 || c.TotalShares < c.Quorum || c.TotalShares > shares.MaxShares {
		return fmt.Errorf("%w: quorum %d of %d shares (need 1 <= quorum <= total_shares <= %d)", shares.ErrInvalidParameters, c.Quorum, c.TotalShares, shares.MaxShares)
	}
	if _, err := envelope.ParseSuite(c.CipherSuite); err != nil {
		return err
	}
	if _, err := shares.ParseField(c.Field); err != nil {
		return err
	}
	if len(c.Custodians) != 0 && len(c.Custodians) != c.TotalShares {
		return fmt.Errorf("%w: %d custodians configured for %d shares", shares.ErrInvalidParameters, len(c.Custodians), c.TotalShares)
	}
	if _, err := c.Workload(); err != nil {
		return err
	}
	return nil
}

// Suite returns the configured cipher suite.
func (c *Config) Suite() (envelope.Suite, error) {
	return envelope.ParseSuite(c.CipherSuite)
}

// FieldID returns the configured sharing field.
func (c *Config) FieldID() (shares.Field, error) {
	return shares.ParseField(c.Field)
}

// CustodianURI returns the custodian URI for the share with the given 1-based index, or ""
// when no custodians are configured.
func (c *Config) CustodianURI(index int) string {
	if index < 1 || index > len(c.Custodians) {
		return ""
	}
	return c.Custodians[index-1].URI
}

// Keys returns the RSA key files for share custody.
func (c *Config) Keys() custody.Keys {
	return custody.Keys{
		PublicKeyFiles:  c.AsymmetricKeys.PublicKeyFiles,
		PrivateKeyFiles: c.AsymmetricKeys.PrivateKeyFiles,
	}
}

// KMSCredentials returns the contents of the Cloud KMS credentials file, or "" if none is
// configured.
func (c *Config) KMSCredentials() (string, error) {
	if c.KMSCredentialsFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.KMSCredentialsFile)
	if err != nil {
		return "", fmt.Errorf("failed to read KMS credentials: %v", err)
	}
	return string(b), nil
}

// Workload returns the Confidential Space credentials, or nil if none are configured.
func (c *Config) Workload() (*confidentialspace.Workload, error) {
	if len(c.ConfidentialSpace) == 0 {
		return nil, nil
	}
	return confidentialspace.NewWorkload(c.ConfidentialSpace)
}
