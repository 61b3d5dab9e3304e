package streams

import "strings"

// SQLEscape is the escape character used in translated LIKE patterns.
const SQLEscape = '/'

// SQLLike translates a code with FDSNWS wildcards into an SQL LIKE pattern:
// * becomes %, ? becomes _. Pre-existing LIKE wildcard characters are escaped
// with SQLEscape.
func SQLLike(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch r {
		case '*':
			b.WriteRune('%')
		case '?':
			b.WriteRune('_')
		case '%', '_', SQLEscape:
			b.WriteRune(SQLEscape)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LikeMatch evaluates an SQL LIKE pattern produced by SQLLike against s.
// % matches any run of characters, _ matches exactly one, and SQLEscape
// escapes the following character.
func LikeMatch(pattern, s string) bool {
	return likeMatch([]rune(pattern), []rune(s))
}

func likeMatch(pattern, s []rune) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '%':
			// Collapse consecutive multi-char wildcards.
			for len(pattern) > 0 && pattern[0] == '%' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if likeMatch(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		case SQLEscape:
			if len(pattern) < 2 || len(s) == 0 || pattern[1] != s[0] {
				return false
			}
			pattern, s = pattern[2:], s[1:]
		default:
			if len(s) == 0 || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return len(s) == 0
}
