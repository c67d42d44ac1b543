// Package uri provides the canonical URI wrapper required throughout the
// indexer. Two code paths in the system this was modeled on forgot to
// normalize a path before using it as a map key and produced duplicate
// shards; New is the only constructor so that mistake cannot recur here.
package uri

import "strings"

// URI is a normalized file identifier. The zero value is not a valid URI;
// always construct one with New.
type URI string

// New canonicalizes raw into a URI: backslashes become forward slashes and,
// for a Windows-style drive letter, the letter is lowercased. Canonicalization
// is idempotent: New(string(New(raw))) == New(raw).
func New(raw string) URI {
	s := strings.ReplaceAll(raw, `\`, "/")

	if len(s) >= 2 && s[1] == ':' && isASCIILetter(s[0]) {
		s = strings.ToLower(s[:1]) + s[1:]
	}

	return URI(s)
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// String returns the normalized string form.
func (u URI) String() string { return string(u) }
