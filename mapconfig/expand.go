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
	"os"
	"strings"
)

// ExpandLocation applies ampersand (spec §4.3.1 item 6) and variable
// (item 7) substitution to a location string, in that order -- a literal
// "\&" escapes to "&" without substitution, "\\" escapes to a literal
// "\" (so "\\&" is a literal backslash followed by a substituted key),
// and an unresolved "${VAR}" is left untouched (os.Expand's mapping
// function returning the original token whenever it isn't found).
func (s *Service) ExpandLocation(location, key string) string {
	return expandVariables(expandAmpersand(location, key), s.vars)
}

// expandAmpersand replaces every unescaped '&' with key, turns '\&'
// into a literal '&', and turns '\\' into a literal '\' -- checked in
// that order so a '\\' isn't mistaken for the escape lead of a
// following '&', which would otherwise swallow it into a literal "\&"
// instead of passing the backslash through and substituting the key.
func expandAmpersand(location, key string) string {
	var b strings.Builder
	for i := 0; i < len(location); i++ {
		switch {
		case location[i] == '\\' && i+1 < len(location) && location[i+1] == '\\':
			b.WriteByte('\\')
			i++
		case location[i] == '\\' && i+1 < len(location) && location[i+1] == '&':
			b.WriteByte('&')
			i++
		case location[i] == '&':
			b.WriteString(key)
		default:
			b.WriteByte(location[i])
		}
	}
	return b.String()
}

// expandVariables substitutes "${VAR}" references using vt, leaving any
// name not present in vt unexpanded.
func expandVariables(location string, vt map[string]string) string {
	return os.Expand(location, func(name string) string {
		if v, ok := vt[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}
