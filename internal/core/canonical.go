package core

import (
	"regexp"
	"strings"
)

// National ids are 7-8 body digits plus a check digit (0-9 or K). Input may
// carry thousands dots, spaces, a hyphen, and a lower-case k.
var compactNationalIDRegex = regexp.MustCompile(`^(\d{7,8})-?([0-9K])$`)

// CompactNationalID strips punctuation from a national id, returning
// "12345678-9". ok is false when s does not have the national id shape.
func CompactNationalID(s string) (string, bool) {
	c := strings.ToUpper(strings.NewReplacer(".", "", " ", "").Replace(strings.TrimSpace(s)))
	m := compactNationalIDRegex.FindStringSubmatch(c)
	if m == nil {
		return "", false
	}
	return m[1] + "-" + m[2], true
}

// CanonicalNationalID rewrites a national id into "12.345.678-9" form.
// Values without the national id shape are returned unchanged.
func CanonicalNationalID(s string) string {
	c, ok := CompactNationalID(s)
	if !ok {
		return s
	}
	body, check := c[:len(c)-2], c[len(c)-1:]

	var b strings.Builder
	lead := len(body) % 3
	if lead > 0 {
		b.WriteString(body[:lead])
	}
	for i := lead; i < len(body); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(body[i : i+3])
	}
	b.WriteByte('-')
	b.WriteString(check)
	return b.String()
}
