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

package hsm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/nestybox/mountbroker/domain"
)

// ParseConfig parses the curly-brace HSM driver configuration grammar
// (spec §6.6) by hand: a flat token scanner plus a small recursive
// descent over "key = value" lines and "block \"name\" { ... }" groups,
// the same shape mapconfig uses for master/map files (see mapconfig's
// line-oriented scanner) rather than pulling in a generic config
// library, since this grammar has no array/typed-value needs beyond
// quoted strings and bare integers.
func ParseConfig(text string) (domain.HsmConfig, error) {
	toks, err := tokenize(text)
	if err != nil {
		return domain.HsmConfig{}, err
	}
	p := &parser{toks: toks}
	return p.parseConfig()
}

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokLBrace
	tokRBrace
	tokEquals
)

type token struct {
	kind tokKind
	text string
}

func tokenize(text string) ([]token, error) {
	var toks []token
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		i := 0
		for i < len(line) {
			c := line[i]
			switch {
			case c == ' ' || c == '\t':
				i++
			case c == '{':
				toks = append(toks, token{tokLBrace, "{"})
				i++
			case c == '}':
				toks = append(toks, token{tokRBrace, "}"})
				i++
			case c == '=':
				toks = append(toks, token{tokEquals, "="})
				i++
			case c == '"':
				j := i + 1
				for j < len(line) && line[j] != '"' {
					j++
				}
				if j >= len(line) {
					return nil, fmt.Errorf("unterminated string literal: %s", line)
				}
				toks = append(toks, token{tokString, line[i+1 : j]})
				i = j + 1
			default:
				j := i
				for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != '{' && line[j] != '}' && line[j] != '=' {
					j++
				}
				toks = append(toks, token{tokWord, line[i:j]})
				i = j
			}
		}
	}
	return toks, scanner.Err()
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) expect(kind tokKind) (token, error) {
	t, ok := p.next()
	if !ok || t.kind != kind {
		return token{}, fmt.Errorf("hsm config: unexpected token near position %d", p.pos)
	}
	return t, nil
}

func (p *parser) parseConfig() (domain.HsmConfig, error) {
	var cfg domain.HsmConfig

	for {
		t, ok := p.peek()
		if !ok {
			break
		}

		switch t.text {
		case "pidfile":
			p.next()
			if _, err := p.expect(tokEquals); err != nil {
				return cfg, err
			}
			v, err := p.expect(tokString)
			if err != nil {
				return cfg, err
			}
			cfg.PidFile = v.text

		case "maxproc":
			p.next()
			if _, err := p.expect(tokEquals); err != nil {
				return cfg, err
			}
			v, ok := p.next()
			if !ok || v.kind != tokWord {
				return cfg, fmt.Errorf("hsm config: maxproc expects an integer")
			}
			n, err := strconv.Atoi(v.text)
			if err != nil {
				return cfg, fmt.Errorf("hsm config: maxproc: %w", err)
			}
			cfg.MaxProc = n

		case "mount":
			m, err := p.parseMount()
			if err != nil {
				return cfg, err
			}
			cfg.Mounts = append(cfg.Mounts, m)

		default:
			return cfg, fmt.Errorf("hsm config: unexpected top-level key %q", t.text)
		}
	}

	return cfg, nil
}

func (p *parser) parseMount() (domain.HsmMountConfig, error) {
	var m domain.HsmMountConfig

	p.next() // "mount"
	name, err := p.expect(tokString)
	if err != nil {
		return m, err
	}
	m.Mountpoint = name.text

	if _, err := p.expect(tokLBrace); err != nil {
		return m, err
	}

	for {
		t, ok := p.peek()
		if !ok {
			return m, fmt.Errorf("hsm config: unterminated mount block %q", m.Mountpoint)
		}
		if t.kind == tokRBrace {
			p.next()
			break
		}

		switch t.text {
		case "local":
			p.next()
			if _, err := p.expect(tokEquals); err != nil {
				return m, err
			}
			v, err := p.expect(tokString)
			if err != nil {
				return m, err
			}
			m.Local = v.text

		case "remote":
			r, err := p.parseRemote()
			if err != nil {
				return m, err
			}
			m.Remotes = append(m.Remotes, r)

		default:
			return m, fmt.Errorf("hsm config: unexpected key %q in mount %q", t.text, m.Mountpoint)
		}
	}

	return m, nil
}

func (p *parser) parseRemote() (domain.HsmRemoteConfig, error) {
	var r domain.HsmRemoteConfig

	p.next() // "remote"
	name, err := p.expect(tokString)
	if err != nil {
		return r, err
	}
	r.Name = name.text

	if _, err := p.expect(tokLBrace); err != nil {
		return r, err
	}

	for {
		t, ok := p.peek()
		if !ok {
			return r, fmt.Errorf("hsm config: unterminated remote block %q", r.Name)
		}
		if t.kind == tokRBrace {
			p.next()
			break
		}

		key := t.text
		p.next()
		if _, err := p.expect(tokEquals); err != nil {
			return r, err
		}
		v, ok := p.next()
		if !ok {
			return r, fmt.Errorf("hsm config: missing value for %q", key)
		}

		switch key {
		case "archive_exec":
			r.ArchiveExec = v.text
		case "release_exec":
			r.ReleaseExec = v.text
		case "stage_exec":
			r.StageExec = v.text
		case "recycle_exec":
			r.RecycleExec = v.text
		default:
			return r, fmt.Errorf("hsm config: unexpected key %q in remote %q", key, r.Name)
		}
	}

	return r, nil
}
