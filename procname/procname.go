// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package procname determines display names and memory mappings of sampled processes from
// procfs. It backs the deferred symbol resolution of the cookie package: launcher binaries
// map the same executable for every application, so the application name has to come from
// the process arguments instead.
package procname // import "github.com/perfsampler/agent/procname"

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/elastic/go-freelru"
	"github.com/prometheus/procfs"
	log "github.com/sirupsen/logrus"

	"github.com/perfsampler/agent/cookie"
)

const (
	// maxNameLen bounds the part of the argument vector used as a name.
	maxNameLen = 256
	// maxAncestors bounds the walk up the parent chain.
	maxAncestors = 4
)

// Resolver resolves process names. It is safe for concurrent use.
type Resolver struct {
	fs    procfs.FS
	names *lru.SyncedLRU[uint32, string]
}

var _ cookie.NameResolver = (*Resolver)(nil)

// hashPID spreads sequential PIDs over the LRU buckets.
func hashPID(pid uint32) uint32 {
	return pid * 0x9e3779b1
}

// New returns a Resolver reading procfs mounted at procRoot. Resolved names are cached for
// up to size processes and ttl.
func New(procRoot string, size uint32, ttl time.Duration) (*Resolver, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procRoot, err)
	}
	names, err := lru.NewSynced[uint32, string](size, hashPID)
	if err != nil {
		return nil, err
	}
	if ttl > 0 {
		names.SetLifetime(ttl)
	}
	return &Resolver{fs: fs, names: names}, nil
}

// ResolveName returns the application name of process owner. If the process itself does
// not report a usable name yet, the nearest ancestor that does is used. Launcher
// placeholder names are never returned.
func (r *Resolver) ResolveName(owner uint32, symbol string) (string, error) {
	if name, ok := r.names.Get(owner); ok {
		return name, nil
	}

	pid := int(owner)
	for range maxAncestors + 1 {
		proc, err := r.fs.Proc(pid)
		if err != nil {
			break
		}
		if name, ok := argvName(proc); ok {
			r.names.Add(owner, name)
			return name, nil
		}
		stat, err := proc.Stat()
		if err != nil || stat.PPID <= 1 {
			break
		}
		pid = stat.PPID
	}

	log.Debugf("No name for %s of process %d", symbol, owner)
	return "", cookie.ErrResolutionFailure
}

// argvName returns the first argument of proc if it can serve as a name.
func argvName(proc procfs.Proc) (string, bool) {
	args, err := proc.CmdLine()
	if err != nil || len(args) == 0 {
		return "", false
	}
	name := args[0]
	if len(name) >= maxNameLen {
		cut := maxNameLen - 1
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	if name == "" || cookie.IsPlaceholder(name) {
		return "", false
	}
	return name, true
}

// Forget drops the cached name of pid, e.g. after the process exited.
func (r *Resolver) Forget(pid uint32) {
	r.names.Remove(pid)
}

// Mappings returns the memory mappings of pid. Pseudo files such as [heap] or [vdso] are
// reported as anonymous.
func (r *Resolver) Mappings(pid uint32) ([]cookie.Mapping, error) {
	proc, err := r.fs.Proc(int(pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cookie.ErrResolutionFailure
		}
		return nil, err
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings of %d: %w", pid, err)
	}

	mappings := make([]cookie.Mapping, 0, len(maps))
	for _, m := range maps {
		path := m.Pathname
		if strings.HasPrefix(path, "[") {
			path = ""
		}
		mappings = append(mappings, cookie.Mapping{
			Start:      uint64(m.StartAddr),
			End:        uint64(m.EndAddr),
			FileOffset: uint64(m.Offset),
			Path:       path,
			Exec:       m.Perms != nil && m.Perms.Execute,
		})
	}
	return mappings, nil
}
