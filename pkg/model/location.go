package model

import "github.com/p-sternik/codeindex/pkg/uri"

// Location pinpoints a single position inside a source file.
type Location struct {
	URI  uri.URI
	Line int
	Char int
}

// Range spans from Start to End within one file.
type Range struct {
	Start Location
	End   Location
}
