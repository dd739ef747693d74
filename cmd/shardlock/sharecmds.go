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

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"flag"
	"github.com/awnumar/memguard"
	glog "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/shardlock/shardlock/client/confidentialspace"
	"github.com/shardlock/shardlock/client/custody"
	"github.com/shardlock/shardlock/client/shares"
	"github.com/shardlock/shardlock/config"
	"github.com/shardlock/shardlock/constants"
)

// shareFilesIn lists the share files in dir.
func shareFilesIn(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+constants.ShareFileExt))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %v files in %v", constants.ShareFileExt, dir)
	}
	return paths, nil
}

func isFile(arg string) bool {
	fi, err := os.Stat(arg)
	return err == nil && fi.Mode().IsRegular()
}

// readLines returns the non-empty lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// splitCmd splits a raw 32-byte secret into share tokens.
type splitCmd struct {
	quorum int
	total  int
	field  string
}

func (*splitCmd) Name() string     { return "split" }
func (*splitCmd) Synopsis() string { return "splits a hex-encoded 32-byte secret into share tokens" }
func (*splitCmd) Usage() string {
	return `Usage: shardlock split [-q <quorum>] [-t <total>] [--field=gf8|gf16] <hex_secret|->

  Print 3 tokens, any 2 of which recover the secret read from stdin:
    $ openssl rand -hex 32 | shardlock split -q 2 -t 3 -

`
}

func (s *splitCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.quorum, "quorum", 2, "Number of shares needed to recover the secret.")
	f.IntVar(&s.quorum, "q", 2, "Shorthand for --quorum.")
	f.IntVar(&s.total, "total-shards", 3, "Number of shares to create.")
	f.IntVar(&s.total, "t", 3, "Shorthand for --total-shards.")
	f.StringVar(&s.field, "field", "gf8", "Finite field to share over: gf8 or gf16.")
}

func (s *splitCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		glog.Errorf("Expected exactly one secret argument")
		return subcommands.ExitUsageError
	}
	encoded := f.Arg(0)
	if encoded == "-" {
		lines, err := readLines(os.Stdin)
		if err != nil || len(lines) != 1 {
			glog.Errorf("Failed to read one secret line from stdin: %v", err)
			return subcommands.ExitFailure
		}
		encoded = lines[0]
	}

	secret, err := hex.DecodeString(encoded)
	if err != nil {
		glog.Errorf("Secret is not valid hex: %v", err)
		return subcommands.ExitFailure
	}
	defer memguard.WipeBytes(secret)

	field, err := shares.ParseField(s.field)
	if err != nil {
		glog.Errorf("%v", err)
		return subcommands.ExitUsageError
	}
	split, err := shares.NewEngine(shares.WithField(field)).Split(secret, s.quorum, s.total)
	if err != nil {
		glog.Errorf("Failed to split secret: %v", err)
		return subcommands.ExitFailure
	}
	tokens, err := shares.Tokens(split)
	if err != nil {
		glog.Errorf("Failed to encode shares: %v", err)
		return subcommands.ExitFailure
	}
	for _, t := range tokens {
		fmt.Println(t)
	}
	return subcommands.ExitSuccess
}

// combineCmd reverses splitCmd.
type combineCmd struct {
	configFile string
}

func (*combineCmd) Name() string     { return "combine" }
func (*combineCmd) Synopsis() string { return "recovers a hex-encoded secret from share tokens or files" }
func (*combineCmd) Usage() string {
	return `Usage: shardlock combine [--config-file=<config_file>] [<token|share_file>...]

  Tokens are read one per line from stdin when no arguments are given:
    $ shardlock combine < tokens.txt

`
}

func (c *combineCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configFile, "config-file", defaultConfigPath(), "Path to a shardlock YAML config file, used to unseal share files. Optional.")
}

func (c *combineCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		var err error
		if args, err = readLines(os.Stdin); err != nil {
			glog.Errorf("Failed to read tokens from stdin: %v", err)
			return subcommands.ExitFailure
		}
	}

	cfg, err := config.Load(c.configFile)
	if err != nil {
		glog.Errorf("Failed to load config: %v", err)
		return subcommands.ExitFailure
	}
	resolver, factory, err := newResolver(cfg, confidentialspace.ModeUnseal)
	if err != nil {
		glog.Errorf("Failed to set up share custody: %v", err)
		return subcommands.ExitFailure
	}
	defer factory.Close()

	var all []shares.Share
	for i, arg := range args {
		var s shares.Share
		if isFile(arg) {
			s, err = custody.ReadShareFile(ctx, arg, resolver)
		} else {
			s, err = shares.Parse(arg)
		}
		if err != nil {
			glog.Errorf("Failed to read share %d: %v", i+1, err)
			return subcommands.ExitFailure
		}
		all = append(all, s)
	}

	secret, err := shares.Combine(all)
	if err != nil {
		glog.Errorf("Failed to combine shares: %v", err)
		return subcommands.ExitFailure
	}
	defer memguard.WipeBytes(secret)
	fmt.Println(hex.EncodeToString(secret))
	return subcommands.ExitSuccess
}

// inspectCmd prints share metadata without reconstructing anything.
type inspectCmd struct{}

func (*inspectCmd) Name() string     { return "inspect" }
func (*inspectCmd) Synopsis() string { return "prints the metadata of shares" }
func (*inspectCmd) Usage() string {
	return `Usage: shardlock inspect <token|share_file>...

`
}
func (*inspectCmd) SetFlags(*flag.FlagSet) {}

func (*inspectCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		glog.Errorf("Expected at least one token or share file")
		return subcommands.ExitUsageError
	}

	status := subcommands.ExitSuccess
	for _, arg := range f.Args() {
		line, err := describe(arg)
		if err != nil {
			glog.Errorf("Failed to inspect %v: %v", arg, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Println(line)
	}
	return status
}

func describe(arg string) (string, error) {
	if !isFile(arg) {
		s, err := shares.Parse(arg)
		if err != nil {
			return "", err
		}
		return s.Describe(), nil
	}

	sf, err := custody.LoadShareFile(arg)
	if err != nil {
		return "", err
	}
	if sf.Custodian != "" {
		return fmt.Sprintf("%v: share %d sealed to %v", arg, sf.Index, sf.Custodian), nil
	}
	s, err := shares.Parse(sf.Share)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v: %v", arg, s.Describe()), nil
}
