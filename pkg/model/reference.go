package model

// Reference is a use-site of a name. The parser never knows the referenced
// symbol's id — only its name — because binding across files happens at
// query time, not at parse time.
type Reference struct {
	SymbolName    string
	Location      Location
	Range         Range
	ContainerName string
	IsLocal       bool

	// ScopeID, when set, lets findReferencesByName restrict results to a
	// lexical scope (e.g. a specific function body) rather than a whole file.
	ScopeID string
}

// PendingReference is a qualified use `container.member` whose target
// cannot be resolved during single-file parsing, because `container` is an
// imported identifier whose definition this file cannot inspect. The
// deferred resolver binds these once the whole workspace has been scanned.
type PendingReference struct {
	Container     string
	Member        string
	ContainerName string
	Location      Location
	Range         Range
}

// ImportInfo is a normalized import statement.
type ImportInfo struct {
	ImportedName string
	SourceModule string
	IsDefault    bool
	IsNamespace  bool
	Location     Location
}

// ReExportInfo is a normalized `export { x } from "./y"` style re-export,
// consumed by the resolver's fallback path and by the dead-code analyzer's
// barrel-file awareness.
type ReExportInfo struct {
	ExportedName string
	SourceModule string
	Location     Location
}
