//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package mapconfig

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/nestybox/mountbroker/domain"
)

// IncludeResolver fetches the master-file text a "+name" include line
// (spec §4.3.1 item 1) refers to. In production this runs an
// externally-configured directory-service lookup (NIS, LDAP, a helper
// binary); tests supply a map literal.
type IncludeResolver func(name string) ([]byte, error)

// SpecialMapRunner runs a special or executable map (spec §4.3.1 items
// 3-4) for a single lookup key and returns the one line of map text it
// produced, or ("", false) if the key has no entry.
type SpecialMapRunner func(mapName, key string) (line string, ok bool, err error)

var _ domain.MapServiceIface = (*Service)(nil)

// Service implements domain.MapServiceIface (component C1). It is safe
// for concurrent use: ParseMap results are memoised by name, guarded by
// mu, the same way the teacher's handler DB memoises its radix tree.
type Service struct {
	ios      domain.IOServiceIface
	includes IncludeResolver
	special  SpecialMapRunner
	vars     domain.VariableTable

	mu    sync.Mutex
	cache map[string]*domain.ParsedMap
}

// NewService builds a Service backed by ios. includes/special may be nil;
// ParseMaster then refuses "+name" lines and ParseMap refuses "-name"
// maps other than the "-hosts" builtin (spec SUPPLEMENTED FEATURES #1).
func NewService(ios domain.IOServiceIface, includes IncludeResolver, special SpecialMapRunner) *Service {
	return &Service{
		ios:      ios,
		includes: includes,
		special:  special,
		vars:     defaultVariables(),
		cache:    make(map[string]*domain.ParsedMap),
	}
}

// ParseMaster reads path and expands "+name" includes in place (spec
// §3.3, §4.3.1 item 1), preserving the order entries were encountered.
func (s *Service) ParseMaster(path string) ([]domain.MasterEntry, error) {
	lines, err := s.readLogicalLines(path)
	if err != nil {
		return nil, err
	}

	var entries []domain.MasterEntry
	for _, line := range lines {
		f := fields(line)
		if len(f) == 0 {
			continue
		}

		if f[0][0] == '+' {
			included, err := s.expandInclude(f[0][1:])
			if err != nil {
				return nil, err
			}
			entries = append(entries, included...)
			continue
		}

		e := domain.MasterEntry{Mountpoint: f[0]}
		if len(f) > 1 {
			e.Map = f[1]
		}
		if len(f) > 2 && f[2][0] == '-' {
			e.Options = f[2][1:]
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func (s *Service) expandInclude(name string) ([]domain.MasterEntry, error) {
	if s.includes == nil {
		return nil, fmt.Errorf("master include %q: %w", name, domain.ErrSyntax)
	}

	raw, err := s.includes(name)
	if err != nil {
		return nil, fmt.Errorf("master include %q: %w", name, err)
	}

	lines, err := logicalLines(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var entries []domain.MasterEntry
	for _, line := range lines {
		f := fields(line)
		if len(f) == 0 {
			continue
		}
		// A nested "+name" inside an include is expanded recursively, same
		// as the original automountd.c include walker.
		if f[0][0] == '+' {
			nested, err := s.expandInclude(f[0][1:])
			if err != nil {
				return nil, err
			}
			entries = append(entries, nested...)
			continue
		}
		e := domain.MasterEntry{Mountpoint: f[0]}
		if len(f) > 1 {
			e.Map = f[1]
		}
		if len(f) > 2 && f[2][0] == '-' {
			e.Options = f[2][1:]
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func (s *Service) readLogicalLines(path string) ([]string, error) {
	n := s.ios.NewIOnode(path, path, os.FileMode(0644))
	raw, err := n.ReadFile()
	if err != nil {
		return nil, err
	}
	return logicalLines(bytes.NewReader(raw))
}
