package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/p-sternik/codeindex/pkg/uri"
)

// SymbolID is a stable hash of a symbol's identity tuple. Two symbols are
// equal iff their IDs are equal.
type SymbolID string

// NewSymbolID computes the stable id of a symbol from the fields that
// determine its identity: uri, name, container, kind and the start of its
// range. Renaming an unrelated symbol in the same file must not change this
// value for any other symbol (spec invariant: stability of symbolId).
func NewSymbolID(fileURI uri.URI, name, container string, kind Kind, startLine, startChar int) SymbolID {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\x00%d", fileURI, name, container, kind, startLine, startChar)

	return SymbolID(hex.EncodeToString(h.Sum(nil)))
}

// Symbol is a single named declaration captured by the parser.
type Symbol struct {
	ID     SymbolID
	Name   string
	Kind   Kind
	Range  Range
	Location Location

	// ContainerName is the immediate enclosing symbol's name, if any.
	ContainerName string

	// FullContainerPath is the dotted path of all enclosing containers,
	// used by the dead-code analyzer's container-match check.
	FullContainerPath string

	IsDefinition bool
	IsExported   bool

	// IsStatic is nil when the parser's language has no such concept.
	IsStatic *bool

	// Metadata carries parser-specific extras, notably the "is-group"
	// marker and its event map consumed by the deferred resolver.
	Metadata map[string]any
}

const metadataKeyIsGroup = "is-group"

const metadataKeyEvents = "events"

// IsGroup reports whether this symbol is an action-group container whose
// members are declared in a data literal rather than as ordinary
// declarations (see the deferred resolver).
func (s Symbol) IsGroup() bool {
	v, ok := s.Metadata[metadataKeyIsGroup]
	if !ok {
		return false
	}

	b, _ := v.(bool)

	return b
}

// Events returns the group's declared member -> underlying-name map when
// IsGroup is true. The underlying name is what findReferencesByName indexes
// under once the resolver synthesizes a reference.
func (s Symbol) Events() map[string]string {
	v, ok := s.Metadata[metadataKeyEvents]
	if !ok {
		return nil
	}

	m, _ := v.(map[string]string)

	return m
}
