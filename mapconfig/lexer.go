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

// Package mapconfig implements component C1, the map model (spec §3.3,
// §4.3, §6.3-§6.4): parsing master and map files, expanding them in the
// fixed order spec §4.3.1 describes, and reconciling the resulting plan
// against the set of live broker mounts (spec §4.3.3).
package mapconfig

import (
	"bufio"
	"io"
	"strings"
)

// logicalLines reads r and yields one string per logical map/master-file
// line: comments (text from an unescaped '#' to end of line) are
// stripped, blank lines are dropped, and a trailing backslash continues
// the entry onto the next physical line -- the same textual conventions
// the teacher's handler config loader and the original automountd.c
// master-file reader both use.
func logicalLines(r io.Reader) ([]string, error) {
	var out []string
	var cur strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for scanner.Scan() {
		line := stripComment(scanner.Text())
		line = strings.TrimRight(line, " \t\r")

		continued := strings.HasSuffix(line, "\\")
		if continued {
			line = strings.TrimSuffix(line, "\\")
		}

		trimmed := strings.TrimSpace(line)
		if cur.Len() == 0 && trimmed == "" {
			continue
		}

		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(strings.TrimSpace(line))

		if !continued {
			flush()
		}
	}
	flush()

	return out, scanner.Err()
}

// stripComment removes a '#' and everything after it, unless the '#' is
// escaped with a backslash.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != '#' {
			continue
		}
		if i > 0 && line[i-1] == '\\' {
			line = line[:i-1] + line[i:]
			continue
		}
		return line[:i]
	}
	return line
}

// fields splits a logical line on whitespace. It is deliberately simpler
// than shell tokenising -- spec §6.3/§6.4 entries never quote fields.
func fields(line string) []string {
	return strings.Fields(line)
}
