// Package parser defines the boundary between the indexer core and the
// language-specific parser that turns source text into symbol and reference
// records. The real parser is an external collaborator (spec §1,
// Out-of-scope); this package only carries the contract and a small fake
// used by the rest of the module's tests.
package parser

import (
	"context"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// Parser turns the text of a single file into a FileIndexResult. It must be
// a pure function of (fileURI, text): no state, no callbacks into the index.
type Parser interface {
	Parse(ctx context.Context, fileURI uri.URI, text string) (model.FileIndexResult, error)
}

// Func adapts a plain function to the Parser interface.
type Func func(ctx context.Context, fileURI uri.URI, text string) (model.FileIndexResult, error)

// Parse implements Parser.
func (f Func) Parse(ctx context.Context, fileURI uri.URI, text string) (model.FileIndexResult, error) {
	return f(ctx, fileURI, text)
}
