// Copyright 2024 The SMT Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Binary smt is a thin command-line wrapper around package storage: it
// owns flag parsing, glog initialization and the documented exit codes,
// and contains no tree logic of its own.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/chainproof/smt/hasher"
	"github.com/chainproof/smt/merkle"
	"github.com/chainproof/smt/storage"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(4)
	}

	dir := flag.Arg(1)
	if dir == "" && args[0] != "help" {
		fmt.Fprintln(os.Stderr, "usage: smt <command> <directory> [args...]")
		os.Exit(4)
	}

	var err error
	switch args[0] {
	case "open":
		err = runOpen(dir)
	case "append":
		err = runAppend(dir, args[2:])
	case "prove":
		err = runProve(dir, args[2:])
	case "verify":
		err = runVerify(args[1:])
	case "sync":
		err = runSync(dir)
	case "compact":
		err = runCompact(dir)
	case "stats":
		err = runStats(dir)
	case "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "smt: unknown command %q\n", args[0])
		usage()
		os.Exit(4)
	}

	if err != nil {
		glog.Errorf("smt %s: %v", args[0], err)
		fmt.Fprintf(os.Stderr, "smt %s: %v\n", args[0], err)
		os.Exit(storage.ExitCode(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: smt <command> <directory> [args...]

commands:
  open      <dir>                    create or verify a tree exists
  append    <dir> <leaf-data>...      append one or more leaves
  prove     <dir> <index>             print an inclusion proof
  verify    <leaf-hex> <index> <root-hex> <sibling-hex,sibling-hex,...>
                                       verify an inclusion proof with no directory
  sync      <dir>                     flush and checkpoint
  compact   <dir>                     rewrite the data file contiguously
  stats     <dir>                     print cache and tree counters`)
}

func open(dir string) (*storage.Tree, error) {
	cfg := storage.DefaultConfig(dir)
	return storage.Open(cfg, nil)
}

func runOpen(dir string) error {
	t, err := open(dir)
	if err != nil {
		return err
	}
	defer t.Close()
	fmt.Printf("opened %s: depth=%d next_index=%d root=%s\n", dir, t.Depth(), t.NextIndex(), t.Root())
	return nil
}

func runAppend(dir string, leaves []string) error {
	if len(leaves) == 0 {
		return fmt.Errorf("append requires at least one leaf value")
	}
	t, err := open(dir)
	if err != nil {
		return err
	}
	defer t.Close()

	for _, leaf := range leaves {
		index, err := t.Append([]byte(leaf))
		if err != nil {
			return err
		}
		fmt.Printf("appended %q at index %d\n", leaf, index)
	}
	return t.Sync()
}

func runProve(dir string, rest []string) error {
	if len(rest) != 1 {
		return fmt.Errorf("prove requires exactly one index argument")
	}
	index, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid index %q: %w", rest[0], err)
	}

	t, err := open(dir)
	if err != nil {
		return err
	}
	defer t.Close()

	proof, err := t.Prove(index)
	if err != nil {
		return err
	}
	fmt.Printf("leaf=%s\n", proof.Leaf)
	for i, sib := range proof.Siblings {
		fmt.Printf("sibling[%d]=%s\n", i, sib)
	}
	fmt.Printf("root=%s\n", t.Root())
	return nil
}

func runVerify(rest []string) error {
	if len(rest) != 4 {
		return fmt.Errorf("verify requires: <leaf-hex> <index> <root-hex> <sibling-hex,sibling-hex,...>")
	}
	leaf, err := parseDigestHex(rest[0])
	if err != nil {
		return fmt.Errorf("invalid leaf: %w", err)
	}
	index, err := strconv.ParseUint(rest[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid index %q: %w", rest[1], err)
	}
	root, err := parseDigestHex(rest[2])
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}
	var siblings []hasher.Digest
	if rest[3] != "" {
		for _, s := range strings.Split(rest[3], ",") {
			d, err := parseDigestHex(s)
			if err != nil {
				return fmt.Errorf("invalid sibling %q: %w", s, err)
			}
			siblings = append(siblings, d)
		}
	}

	if merkle.VerifyProof(leaf, index, siblings, root) {
		fmt.Println("proof verifies")
		return nil
	}
	fmt.Println("proof does NOT verify")
	os.Exit(4)
	return nil
}

func parseDigestHex(s string) (hasher.Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return hasher.Digest{}, err
	}
	d, ok := hasher.DigestFromBytes(raw)
	if !ok {
		return hasher.Digest{}, fmt.Errorf("want %d bytes, got %d", hasher.Size, len(raw))
	}
	return d, nil
}

func runSync(dir string) error {
	t, err := open(dir)
	if err != nil {
		return err
	}
	defer t.Close()
	return t.Sync()
}

func runCompact(dir string) error {
	t, err := open(dir)
	if err != nil {
		return err
	}
	defer t.Close()
	return t.Compact(context.Background())
}

func runStats(dir string) error {
	t, err := open(dir)
	if err != nil {
		return err
	}
	defer t.Close()
	stats, err := t.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("next_index=%d capacity=%d root=%s\n", stats.NextIndex, stats.Capacity, stats.Root)
	fmt.Printf("wal_size=%d\n", stats.WALSize)
	fmt.Printf("cache: hits=%d misses=%d evictions=%d\n", stats.CacheHits, stats.CacheMisses, stats.CacheEvictions)
	return nil
}

