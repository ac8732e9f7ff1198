// SPDX-License-Identifier: MPL-2.0

package script

import "strings"

// Tokenize splits a macro-resolved script line into tokens on unquoted,
// unescaped spaces. A double quote toggles quoting unless the preceding
// character was a backslash; a backslash suppresses splitting at the space
// that immediately follows it. Quote and backslash characters are kept
// verbatim in the tokens; no unescaping is performed. The result always has
// at least one token (the empty string for an empty line).
func Tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	quoted := false
	escaped := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == ' ' && !quoted && !escaped {
			tokens = append(tokens, cur.String())
			cur.Reset()
		} else {
			if c == '"' && !escaped {
				quoted = !quoted
			}
			cur.WriteByte(c)
		}
		escaped = c == '\\'
	}
	return append(tokens, cur.String())
}

// Unquote strips one pair of surrounding double quotes from a token, if
// present. Tokens keep their quotes through Tokenize; consumers that need
// the bare value (event text, process arguments, stored assignments) strip
// them here.
func Unquote(token string) string {
	if len(token) >= 2 && token[0] == '"' && token[len(token)-1] == '"' {
		return token[1 : len(token)-1]
	}
	return token
}
