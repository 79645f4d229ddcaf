package normalize

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeName maps a raw header onto a lower snake_case identifier that is
// safe as a SQL column and parquet field name.
func SanitizeName(raw string) string {
	name := norm.NFKC.String(strings.TrimSpace(raw))

	var b strings.Builder
	b.Grow(len(name) + 4)
	runes := []rune(name)
	lastUnderscore := true
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && i > 0 && !lastUnderscore {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && unicode.IsDigit([]rune(out)[0]) {
		out = "c_" + out
	}
	return out
}

// SanitizeHeaders sanitizes every header and resolves collisions by
// suffixing _2, _3 and so on. Empty names become column_<n> (1-based).
func SanitizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	taken := make(map[string]struct{}, len(headers))
	for i, h := range headers {
		name := SanitizeName(h)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		if _, dup := taken[candidate]; dup {
			for n := 2; ; n++ {
				candidate = name + "_" + strconv.Itoa(n)
				if _, dup := taken[candidate]; !dup {
					break
				}
			}
		}
		taken[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}
