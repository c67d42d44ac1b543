// Package model defines the entities shared by the shard store, the
// in-memory indexes and the resolver: symbols, references, pending
// references and the persisted file shard that owns them.
package model

import (
	"encoding/json"
)

// Kind enumerates the fixed set of symbol kinds the indexer understands.
// The parser is responsible for mapping language-specific declarations onto
// this enumeration.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindClass
	KindInterface
	KindFunction
	KindMethod
	KindProperty
	KindType
	KindEnum
	KindConstant
	KindVariable
	KindNamespace
	KindModule
)

//nolint:gochecknoglobals
var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindClass:     "class",
	KindInterface: "interface",
	KindFunction:  "function",
	KindMethod:    "method",
	KindProperty:  "property",
	KindType:      "type",
	KindEnum:      "enum",
	KindConstant:  "constant",
	KindVariable:  "variable",
	KindNamespace: "namespace",
	KindModule:    "module",
}

// String returns the wire/display name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "unknown"
}

// ParseKind maps a wire name back onto a Kind. Unknown names map to
// KindUnknown rather than erroring, since a shard written by a newer build
// may carry a kind this build has never heard of (spec: readers MUST accept
// absent/unknown fields gracefully).
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return Kind(k)
		}
	}

	return KindUnknown
}

// MarshalJSON encodes a Kind as its wire name rather than its numeric
// value, so a Symbol returned from the HTTP query surface reads as
// `"kind":"function"` instead of a bare integer.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a Kind from its wire name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*k = ParseKind(s)

	return nil
}
