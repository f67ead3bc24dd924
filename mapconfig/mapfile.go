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
	"strings"

	"github.com/nestybox/mountbroker/domain"
)

const directMapKey = "/-"

// ParseMap loads and expands the map named name (spec §4.3.1 items 2-4).
// A name starting with "-" is a special map: "-hosts" is the one builtin
// (SUPPLEMENTED FEATURES #1); any other is delegated to the configured
// SpecialMapRunner on a per-key basis rather than parsed up front, since
// its content is a function of the lookup key. The same per-key deferral
// applies to a map file with any execute bit set (item 4); ParseMap
// returns such a map with no keys, and ResolveKey recognises it by its
// execute bit and invokes it lazily.
func (s *Service) ParseMap(name string) (*domain.ParsedMap, error) {
	s.mu.Lock()
	if cached, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	m, err := s.parseMapUncached(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = m
	s.mu.Unlock()
	return m, nil
}

func (s *Service) parseMapUncached(name string) (*domain.ParsedMap, error) {
	if name == "-hosts" {
		return hostsBuiltinMap(), nil
	}

	if len(name) > 0 && name[0] == '-' {
		if s.special == nil {
			return nil, fmt.Errorf("special map %q: %w", name, domain.ErrSyntax)
		}
		return &domain.ParsedMap{Name: name, Keys: nil}, nil
	}

	n := s.ios.NewIOnode(name, name, os.FileMode(0644))
	info, err := n.Stat()
	if err != nil {
		return nil, err
	}
	if info.Mode()&0111 != 0 {
		// Executable map (item 4): deferred to ResolveKey, one invocation
		// per lookup key.
		return &domain.ParsedMap{Name: name, Keys: nil}, nil
	}

	raw, err := n.ReadFile()
	if err != nil {
		return nil, err
	}

	lines, err := logicalLines(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	m := &domain.ParsedMap{Name: name}
	for _, line := range lines {
		mk, err := parseMapLine(line)
		if err != nil {
			return nil, fmt.Errorf("map %q: %w", name, err)
		}
		m.Keys = append(m.Keys, mk)
	}

	return s.expandDirectMaps(m)
}

// expandDirectMaps implements spec §4.3.1 item 2: a top-level key equal
// to "/-" names a direct map whose level-2 locations are themselves
// further map names. Each is parsed and its keys (absolute paths, per
// I-N2) are spliced in as siblings of the "/-" entry, which is then
// dropped -- the node tree built from the result inserts each spliced
// key as its own child of the "/-" root.
func (s *Service) expandDirectMaps(m *domain.ParsedMap) (*domain.ParsedMap, error) {
	var kept []domain.MapKey
	var spliced []domain.MapKey

	for _, mk := range m.Keys {
		if mk.Key != directMapKey {
			kept = append(kept, mk)
			continue
		}
		for _, t := range mk.Targets {
			sub, err := s.ParseMap(t.Location)
			if err != nil {
				return nil, fmt.Errorf("direct map %q -> %q: %w", m.Name, t.Location, err)
			}
			spliced = append(spliced, sub.Keys...)
		}
	}

	m.Keys = append(kept, spliced...)
	return m, nil
}

// hostsBuiltinMap is the "-hosts" special map (SUPPLEMENTED FEATURES #1):
// any key is resolved by treating it as a hostname and mounting its
// entire NFS export list, rather than by consulting a file.
func hostsBuiltinMap() *domain.ParsedMap {
	return &domain.ParsedMap{
		Name: "-hosts",
		Keys: []domain.MapKey{
			{
				Key:      "*",
				Wildcard: true,
				Targets:  []domain.MapTarget{{Mountpoint: "/", Location: "&:/"}},
			},
		},
	}
}

// parseMapLine parses one logical map-file line into a MapKey (spec
// §4.3, §6.4): "key [-options] [ [/mountpoint] [-options2] location ]...".
func parseMapLine(line string) (domain.MapKey, error) {
	f := fields(line)
	if len(f) == 0 {
		return domain.MapKey{}, fmt.Errorf("empty entry")
	}

	mk := domain.MapKey{Key: f[0], Wildcard: f[0] == "*"}
	rest := f[1:]

	if len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
		mk.Options = strings.TrimPrefix(rest[0], "-")
		rest = rest[1:]
	}

	cur := domain.MapTarget{}
	haveMountFrag := false
	for _, tok := range rest {
		switch {
		case strings.HasPrefix(tok, "/"):
			if cur.Location != "" {
				mk.Targets = append(mk.Targets, cur)
				cur = domain.MapTarget{}
				haveMountFrag = false
			}
			cur.Mountpoint = tok
			haveMountFrag = true
		case strings.HasPrefix(tok, "-"):
			cur.Options = strings.TrimPrefix(tok, "-")
		default:
			if !haveMountFrag {
				cur.Mountpoint = "/"
			}
			cur.Location = tok
			mk.Targets = append(mk.Targets, cur)
			cur = domain.MapTarget{}
			haveMountFrag = false
		}
	}

	if len(mk.Targets) == 0 {
		return mk, fmt.Errorf("key %q: no location", mk.Key)
	}
	return mk, nil
}

// ResolveKey looks up key within m (spec §4.3.1 item 5): a literal match
// wins; otherwise a "*" wildcard key is materialised on the fly. Dynamic
// (special/executable) maps are consulted lazily and the result is
// memoised onto m so a repeat lookup of the same key is free.
func (s *Service) ResolveKey(m *domain.ParsedMap, key, mountFragment string) (domain.MapTarget, bool) {
	if mountFragment == "" {
		mountFragment = "/"
	}

	if mk, ok := findKey(m, key); ok {
		return pickTarget(mk, mountFragment)
	}

	isSpecial := len(m.Name) > 0 && m.Name[0] == '-' && m.Name != "-hosts"
	isExecutable := false
	if len(m.Name) > 0 && m.Name[0] != '-' {
		if info, err := s.ios.NewIOnode(m.Name, m.Name, os.FileMode(0644)).Stat(); err == nil {
			isExecutable = info.Mode()&0111 != 0
		}
	}
	switch {
	case isSpecial:
		if mk, ok := s.resolveSpecial(m, key); ok {
			m.Keys = append(m.Keys, mk)
			return pickTarget(mk, mountFragment)
		}
	case isExecutable:
		// Executable map (item 4): deferred at parse time and invoked
		// once per lookup key not already memoised.
		if mk, ok := s.resolveDynamic(m, key); ok {
			m.Keys = append(m.Keys, mk)
			return pickTarget(mk, mountFragment)
		}
	}

	if wk, ok := findKey(m, "*"); ok {
		return pickTarget(wk, mountFragment)
	}

	return domain.MapTarget{}, false
}

func findKey(m *domain.ParsedMap, key string) (domain.MapKey, bool) {
	for _, mk := range m.Keys {
		if mk.Key == key {
			return mk, true
		}
	}
	return domain.MapKey{}, false
}

func pickTarget(mk domain.MapKey, mountFragment string) (domain.MapTarget, bool) {
	for _, t := range mk.Targets {
		if t.Mountpoint == mountFragment {
			return t, true
		}
	}
	if len(mk.Targets) > 0 {
		return mk.Targets[0], true
	}
	return domain.MapTarget{}, false
}

func (s *Service) resolveDynamic(m *domain.ParsedMap, key string) (domain.MapKey, bool) {
	n := s.ios.NewIOnode(m.Name, m.Name, os.FileMode(0755))
	out, err := n.RunExecutable(key)
	if err != nil {
		return domain.MapKey{}, false
	}
	return parseFirstKeyLine(key, out)
}

func (s *Service) resolveSpecial(m *domain.ParsedMap, key string) (domain.MapKey, bool) {
	if s.special == nil {
		return domain.MapKey{}, false
	}
	line, ok, err := s.special(m.Name, key)
	if err != nil || !ok {
		return domain.MapKey{}, false
	}
	mk, err := parseMapLine(key + " " + line)
	if err != nil {
		return domain.MapKey{}, false
	}
	return mk, true
}

func parseFirstKeyLine(key string, out []byte) (domain.MapKey, bool) {
	lines, err := logicalLines(bytes.NewReader(out))
	if err != nil || len(lines) == 0 {
		return domain.MapKey{}, false
	}
	mk, err := parseMapLine(lines[0])
	if err != nil {
		return domain.MapKey{}, false
	}
	mk.Key = key
	return mk, true
}
