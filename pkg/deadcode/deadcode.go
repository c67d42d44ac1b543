// Package deadcode flags exported symbols that have no reference anywhere
// else in the indexed workspace, as a best-effort "probably unused"
// signal rather than a proof — a symbol used only via reflection or only
// from a generated file the parser could not see will still be reported as
// unreferenced unless explicitly excluded.
package deadcode

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ryanuber/go-glob"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// Confidence reflects how sure the analyzer is that a symbol is truly
// unused.
type Confidence string

const (
	// ConfidenceHigh means the symbol has no reference from any other file,
	// is not used by another exported symbol in its own file, and its file
	// matches no barrier-file glob.
	ConfidenceHigh Confidence = "high"

	// ConfidenceMedium means the symbol has no reference from any other
	// file, but it lives in a file matched by a barrier-file glob (e.g. an index.ts
	// re-export surface), where "used externally, not visibly referenced
	// internally" is a common and intentional pattern.
	ConfidenceMedium Confidence = "medium"
)

// Finding is one candidate dead symbol.
type Finding struct {
	Symbol     model.Symbol
	Confidence Confidence
}

// Config controls which files are excluded from candidacy (entry points)
// and which files get a lowered confidence instead of exclusion (barrier
// files). Globs support "**" via github.com/ryanuber/go-glob in addition
// to filepath.Match's single-segment "*".
type Config struct {
	EntryPointGlobs  []string
	BarrierFileGlobs []string
}

// Analyzer finds unreferenced exported symbols in a bgindex.Index.
type Analyzer struct {
	index *bgindex.Index
	cfg   Config
}

// New creates an Analyzer.
func New(index *bgindex.Index, cfg Config) *Analyzer {
	return &Analyzer{index: index, cfg: cfg}
}

// Analyze walks every exported symbol in the index and reports those with
// no reference from outside their own file and no use by another exported
// symbol in that file, skipping files matched by an entry-point glob
// entirely.
func (a *Analyzer) Analyze(ctx context.Context) ([]Finding, error) {
	files, err := a.index.AllFiles(ctx)
	if err != nil {
		return nil, err
	}

	var findings []Finding

	for _, u := range files {
		if a.matchesAny(u, a.cfg.EntryPointGlobs) {
			continue
		}

		symbols, err := a.index.GetFileSymbols(ctx, u)
		if err != nil {
			return nil, err
		}

		for _, sym := range symbols {
			if !sym.IsExported {
				continue
			}

			refs, err := a.index.FindReferencesByName(ctx, sym.Name)
			if err != nil {
				return nil, err
			}

			if hasExternalReference(sym, refs) {
				continue
			}

			if usedByExportedSymbol(sym, symbols) {
				continue
			}

			confidence := ConfidenceHigh
			if a.matchesAny(u, a.cfg.BarrierFileGlobs) {
				confidence = ConfidenceMedium
			}

			findings = append(findings, Finding{Symbol: sym, Confidence: confidence})
		}
	}

	return findings, nil
}

// hasExternalReference reports whether any reference to sym comes from a
// file other than sym's own declaring file. A same-file reference is never
// by itself enough to call sym used — it might come from a private helper
// that only this package can reach — so same-file references are filtered
// out here and handled separately by usedByExportedSymbol.
func hasExternalReference(sym model.Symbol, refs []model.Reference) bool {
	for _, ref := range refs {
		if ref.Location.URI != sym.Location.URI {
			return true
		}
	}

	return false
}

// usedByExportedSymbol reports whether sym, despite having no reference
// outside its own file, is itself part of another exported symbol
// declared in that file — either named as that symbol's container (a
// method or field of an exported type) or lexically nested inside its
// range. This catches types used only by exported APIs: a parameter or
// helper type that nothing outside the file names directly but that is
// structurally part of the public surface through another export.
func usedByExportedSymbol(sym model.Symbol, fileSymbols []model.Symbol) bool {
	for _, other := range fileSymbols {
		if !other.IsExported || other.ID == sym.ID {
			continue
		}

		if containerNameMatches(sym, other) || rangeContains(other.Range, sym.Range) {
			return true
		}
	}

	return false
}

func containerNameMatches(sym, other model.Symbol) bool {
	return sym.ContainerName != "" && sym.ContainerName == other.Name
}

func rangeContains(outer model.Range, inner model.Range) bool {
	return locationWithin(outer, inner.Start) && locationWithin(outer, inner.End)
}

func locationWithin(r model.Range, loc model.Location) bool {
	if loc.URI != r.Start.URI {
		return false
	}

	if loc.Line < r.Start.Line || loc.Line > r.End.Line {
		return false
	}

	if loc.Line == r.Start.Line && loc.Char < r.Start.Char {
		return false
	}

	if loc.Line == r.End.Line && loc.Char > r.End.Char {
		return false
	}

	return true
}

func (a *Analyzer) matchesAny(u uri.URI, patterns []string) bool {
	path := u.String()

	for _, pattern := range patterns {
		if strings.Contains(pattern, "**") {
			if glob.Glob(pattern, path) {
				return true
			}

			continue
		}

		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}

		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}

	return false
}
