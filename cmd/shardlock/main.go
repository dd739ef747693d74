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

// This binary is the main entrypoint for the shardlock command line tool.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"flag"
	"github.com/awnumar/memguard"
	glog "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/shardlock/shardlock/client"
	"github.com/shardlock/shardlock/client/cloudkms"
	"github.com/shardlock/shardlock/client/confidentialspace"
	"github.com/shardlock/shardlock/client/custody"
	"github.com/shardlock/shardlock/client/dek"
	"github.com/shardlock/shardlock/client/kek"
	"github.com/shardlock/shardlock/client/keys"
	"github.com/shardlock/shardlock/client/shares"
	"github.com/shardlock/shardlock/config"
	"github.com/shardlock/shardlock/constants"
)

func defaultConfigPath() string {
	path, err := config.DefaultPath()
	if err != nil {
		glog.Errorf("Failed to get config directory location: %v", err)
		return constants.DefaultConfigName
	}
	return path
}

// newResolver builds the custodian resolver for cfg. The returned factory must be closed.
func newResolver(cfg *config.Config, mode confidentialspace.Mode) (*custody.Resolver, *cloudkms.ClientFactory, error) {
	creds, err := cfg.KMSCredentials()
	if err != nil {
		return nil, nil, err
	}
	workload, err := cfg.Workload()
	if err != nil {
		return nil, nil, err
	}
	if workload.InConfidentialSpace() {
		glog.V(1).Info("Running in Confidential Space")
	}
	factory := cloudkms.NewClientFactory(constants.Version)
	return &custody.Resolver{
		Keys:           cfg.Keys(),
		KMS:            factory,
		KMSCredentials: creds,
		Workload:       workload,
		Mode:           mode,
	}, factory, nil
}

// transform runs a file or stream operation from in to out, where "-" is stdin or stdout.
// Output written to a named file from stdin is only written once fn has succeeded.
func transform(ctx context.Context, in, out string, key *keys.Secret,
	fileFn func(context.Context, string, string, *keys.Secret) error,
	streamFn func(context.Context, io.Reader, io.Writer, *keys.Secret) error) error {
	if in != "-" && out != "-" {
		return fileFn(ctx, in, out, key)
	}

	var r io.Reader = os.Stdin
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("failed to open input file: %v", err)
		}
		defer f.Close()
		r = f
	}
	if out == "-" {
		return streamFn(ctx, r, os.Stdout, key)
	}

	var buf bytes.Buffer
	if err := streamFn(ctx, r, &buf, key); err != nil {
		return err
	}
	defer memguard.WipeBytes(buf.Bytes())
	if err := os.WriteFile(out, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("%w: failed to write output file: %v", client.ErrIO, err)
	}
	return nil
}

// reportTo returns where status lines go: stderr when the payload goes to stdout.
func reportTo(out string) io.Writer {
	if out == "-" {
		return os.Stderr
	}
	return os.Stdout
}

// encryptCmd handles CLI options for the encryption command.
type encryptCmd struct {
	configFile string
	quorum     int
	total      int
	shareDir   string
	wrappedKey string
	force      bool
	quiet      bool
}

func (*encryptCmd) Name() string { return "encrypt" }
func (*encryptCmd) Synopsis() string {
	return "encrypts a file under a fresh key whose KEK is split into shares"
}
func (*encryptCmd) Usage() string {
	return fmt.Sprintf(`Usage: shardlock encrypt [--config-file=<config_file>] [-q <quorum>] [-t <total>] [--share-dir=<dir>] [--wrapped-key=<file>] <plaintext_file> <encrypted_file>

  Encrypt a file, using %s for configuration:
    $ shardlock encrypt plaintext.txt ciphertext.bin

  Encrypt from stdin into a file, requiring 3 of 5 shares to decrypt:
    $ cat plaintext.txt | shardlock encrypt -q 3 -t 5 - ciphertext.bin

  Shares are written to <share_dir>/<index>%s and the wrapped key to <encrypted_file>%s.
  Existing share files and wrapped keys are never replaced unless --force is given.

`, defaultConfigPath(), constants.ShareFileExt, constants.WrappedKeyExt)
}

func (e *encryptCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.configFile, "config-file", defaultConfigPath(), "Path to a shardlock YAML config file. Optional.")
	f.IntVar(&e.quorum, "quorum", 0, "Number of shares needed to decrypt. Overrides the config file.")
	f.IntVar(&e.quorum, "q", 0, "Shorthand for --quorum.")
	f.IntVar(&e.total, "total-shards", 0, "Number of shares to create. Overrides the config file.")
	f.IntVar(&e.total, "t", 0, "Shorthand for --total-shards.")
	f.StringVar(&e.shareDir, "share-dir", "", "Directory to write share files to. Overrides the config file.")
	f.StringVar(&e.wrappedKey, "wrapped-key", "", "Where to write the wrapped data key. Defaults to <encrypted_file>"+constants.WrappedKeyExt+".")
	f.BoolVar(&e.force, "force", false, "Replace existing share files and wrapped key. Ciphertexts protected by them can no longer be decrypted.")
	f.BoolVar(&e.quiet, "quiet", false, "Suppresses printing of status information.")
}

func (e *encryptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) (status subcommands.ExitStatus) {
	if f.NArg() < 2 {
		glog.Errorf("Not enough arguments (expected plaintext file and encrypted file)")
		return subcommands.ExitUsageError
	}
	in, out := f.Arg(0), f.Arg(1)

	cfg, err := config.Load(e.configFile)
	if err != nil {
		glog.Errorf("Failed to load config: %v", err)
		return subcommands.ExitFailure
	}
	if e.quorum != 0 {
		cfg.Quorum = e.quorum
	}
	if e.total != 0 {
		cfg.TotalShares = e.total
	}
	if e.shareDir != "" {
		cfg.ShareDir = e.shareDir
	}
	if err := cfg.Validate(); err != nil {
		glog.Errorf("Invalid parameters: %v", err)
		return subcommands.ExitFailure
	}
	suite, _ := cfg.Suite()
	field, _ := cfg.FieldID()

	wrappedPath := e.wrappedKey
	if wrappedPath == "" {
		if out == "-" {
			glog.Errorf("--wrapped-key is required when writing ciphertext to stdout")
			return subcommands.ExitUsageError
		}
		wrappedPath = out + constants.WrappedKeyExt
	}

	if _, err := os.Stat(wrappedPath); err == nil && !e.force {
		glog.Errorf("Wrapped key %v already exists; use --force to replace it", wrappedPath)
		return subcommands.ExitFailure
	}
	if e.force {
		var existing []string
		for i := 1; i <= cfg.TotalShares; i++ {
			existing = append(existing, custody.ShareFileName(cfg.ShareDir, i))
		}
		custody.RemoveFiles(existing)
	}

	resolver, factory, err := newResolver(cfg, confidentialspace.ModeSeal)
	if err != nil {
		glog.Errorf("Failed to set up share custody: %v", err)
		return subcommands.ExitFailure
	}
	defer factory.Close()

	m := dek.NewManager(dek.WithKEKManager(kek.NewManager(kek.WithEngine(shares.NewEngine(shares.WithField(field))))))
	defer m.Close()
	if err := m.CreateNew(cfg.Quorum, cfg.TotalShares); err != nil {
		glog.Errorf("Failed to create keys: %v", err)
		return subcommands.ExitFailure
	}

	s, _ := m.Shares()
	if err := os.MkdirAll(cfg.ShareDir, 0700); err != nil {
		glog.Errorf("Failed to create share directory: %v", err)
		return subcommands.ExitFailure
	}
	written, err := custody.WriteShareFiles(ctx, cfg.ShareDir, s, resolver, cfg.CustodianURI)
	if errors.Is(err, custody.ErrShareFileExists) {
		glog.Errorf("%v; use another --share-dir, or --force to replace the shares of an earlier encryption", err)
		return subcommands.ExitFailure
	}
	if err != nil {
		glog.Errorf("Failed to write shares: %v", err)
		return subcommands.ExitFailure
	}
	defer func() {
		if status != subcommands.ExitSuccess {
			glog.Warningf("Removing the shares and wrapped key written for the failed encryption")
			custody.RemoveFiles(append(written, wrappedPath))
		}
	}()

	wrapped, _ := m.WrappedDEK()
	if err := client.WriteWrappedKey(wrappedPath, wrapped); err != nil {
		glog.Errorf("Failed to write wrapped key: %v", err)
		return subcommands.ExitFailure
	}

	key, _ := m.DEK()
	c := &client.Client{Suite: suite}
	if err := transform(ctx, in, out, key, c.EncryptFile, c.Encrypt); err != nil {
		glog.Errorf("Failed to encrypt plaintext: %v", err)
		return subcommands.ExitFailure
	}

	if !e.quiet {
		w := reportTo(out)
		fmt.Fprintln(w, "Wrote encrypted data to", out)
		fmt.Fprintf(w, "Wrote %d shares to %v, any %d of which decrypt it (split %v)\n", len(s), cfg.ShareDir, cfg.Quorum, s[0].Generation)
		fmt.Fprintln(w, "Wrote wrapped key to", wrappedPath)
	}
	return subcommands.ExitSuccess
}

// decryptCmd handles CLI options for the decryption command.
type decryptCmd struct {
	configFile string
	wrappedKey string
	quiet      bool
}

func (*decryptCmd) Name() string { return "decrypt" }
func (*decryptCmd) Synopsis() string {
	return "decrypts a file using a quorum of shares and its wrapped key"
}
func (*decryptCmd) Usage() string {
	return fmt.Sprintf(`Usage: shardlock decrypt [--config-file=<config_file>] [--wrapped-key=<file>] <encrypted_file> <plaintext_file> [<share_file>...]

  Decrypt a file with the shares found in the configured share directory, using %s:
    $ shardlock decrypt ciphertext.bin plaintext.txt

  Decrypt to stdout with two specific shares:
    $ shardlock decrypt ciphertext.bin - shares/1%s shares/3%s

`, defaultConfigPath(), constants.ShareFileExt, constants.ShareFileExt)
}

func (d *decryptCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.configFile, "config-file", defaultConfigPath(), "Path to a shardlock YAML config file. Optional.")
	f.StringVar(&d.wrappedKey, "wrapped-key", "", "Wrapped data key written at encryption. Defaults to <encrypted_file>"+constants.WrappedKeyExt+".")
	f.BoolVar(&d.quiet, "quiet", false, "Suppresses printing of status information.")
}

func (d *decryptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 2 {
		glog.Errorf("Not enough arguments (expected encrypted file and plaintext file)")
		return subcommands.ExitUsageError
	}
	in, out := f.Arg(0), f.Arg(1)

	cfg, err := config.Load(d.configFile)
	if err != nil {
		glog.Errorf("Failed to load config: %v", err)
		return subcommands.ExitFailure
	}
	suite, _ := cfg.Suite()

	wrappedPath := d.wrappedKey
	if wrappedPath == "" {
		if in == "-" {
			glog.Errorf("--wrapped-key is required when reading ciphertext from stdin")
			return subcommands.ExitUsageError
		}
		wrappedPath = in + constants.WrappedKeyExt
	}

	paths := f.Args()[2:]
	if len(paths) == 0 {
		if paths, err = shareFilesIn(cfg.ShareDir); err != nil {
			glog.Errorf("Failed to list share files: %v", err)
			return subcommands.ExitFailure
		}
	}

	resolver, factory, err := newResolver(cfg, confidentialspace.ModeUnseal)
	if err != nil {
		glog.Errorf("Failed to set up share custody: %v", err)
		return subcommands.ExitFailure
	}
	defer factory.Close()

	s, err := custody.ReadShareFiles(ctx, paths, resolver)
	if err != nil {
		glog.Errorf("Failed to read shares: %v", err)
		return subcommands.ExitFailure
	}
	wrapped, err := client.ReadWrappedKey(wrappedPath)
	if err != nil {
		glog.Errorf("Failed to read wrapped key: %v", err)
		return subcommands.ExitFailure
	}

	m := dek.NewManager()
	defer m.Close()
	if err := m.Recover(s, wrapped); err != nil {
		glog.Errorf("Failed to recover data key: %v", err)
		return subcommands.ExitFailure
	}

	key, _ := m.DEK()
	c := &client.Client{Suite: suite}
	if err := transform(ctx, in, out, key, c.DecryptFile, c.Decrypt); err != nil {
		glog.Errorf("Failed to decrypt ciphertext: %v", err)
		return subcommands.ExitFailure
	}

	if !d.quiet {
		fmt.Fprintf(reportTo(out), "Wrote plaintext to %v using %d shares\n", out, len(s))
	}
	return subcommands.ExitSuccess
}

// versionCmd handles CLI options for the version command.
type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "prints the current version" }
func (*versionCmd) Usage() string          { return "Usage: shardlock version" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Printf("shardlock version %s\n", constants.Version)
	return subcommands.ExitSuccess
}

func main() {
	memguard.CatchInterrupt()

	flag.Parse()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&encryptCmd{}, "")
	subcommands.Register(&decryptCmd{}, "")
	subcommands.Register(&splitCmd{}, "shares")
	subcommands.Register(&combineCmd{}, "shares")
	subcommands.Register(&inspectCmd{}, "shares")
	subcommands.Register(&versionCmd{}, "")

	ctx := context.Background()
	status := subcommands.Execute(ctx)
	glog.Flush()
	memguard.Purge()
	os.Exit(int(status))
}
