package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// Fake is a tiny regex-based stand-in for a real language parser. It
// understands just enough of a toy JS/TS-like syntax to exercise the core
// indexer end to end in tests: exported declarations, imports, `new X()` /
// `X.y()` use sites, and `createGroup({events: {...}})` action groups.
//
// It is not meant to be linguistically correct — only deterministic and
// pure, which is all the core requires of C1.
type Fake struct{}

// NewFake returns a ready-to-use fake parser.
func NewFake() Fake { return Fake{} }

//nolint:gochecknoglobals
var (
	reExportDecl  = regexp.MustCompile(`export\s+(class|interface|function|const|let|var)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reImport      = regexp.MustCompile(`import\s*\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\s*from\s*['"]([^'"]+)['"]`)
	reNewCall     = regexp.MustCompile(`new\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	reMemberCall  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	reGroupDecl   = regexp.MustCompile(`(?s)(?:export\s+)?(?:const|let|var)\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*createGroup\(\{(.*?)\}\s*\)`)
	reEventsBlock = regexp.MustCompile(`(?s)events\s*:\s*\{(.*?)\}`)
	reEventEntry  = regexp.MustCompile(`['"]?([A-Za-z_][A-Za-z0-9_ ]*)['"]?\s*:`)
)

// Parse implements Parser.
func (Fake) Parse(_ context.Context, fileURI uri.URI, text string) (model.FileIndexResult, error) {
	var result model.FileIndexResult

	sum := sha256.Sum256([]byte(text))
	result.ContentHash = hex.EncodeToString(sum[:])

	imported := map[string]string{} // local name -> source module

	for _, m := range reImport.FindAllStringSubmatch(text, -1) {
		name, src := m[1], m[2]
		imported[name] = src
		result.Imports = append(result.Imports, model.ImportInfo{
			ImportedName: name,
			SourceModule: src,
		})
	}

	groupNames := map[string]bool{}

	for _, m := range reGroupDecl.FindAllStringSubmatch(text, -1) {
		name, body := m[1], m[2]
		groupNames[name] = true

		line, char := lineChar(text, strings.Index(text, m[0]))
		sym := model.Symbol{
			Name:         name,
			Kind:         model.KindClass,
			IsDefinition: true,
			IsExported:   strings.Contains(m[0], "export"),
			Location:     model.Location{URI: fileURI, Line: line, Char: char},
			Metadata:     map[string]any{"is-group": true},
		}

		if ev := reEventsBlock.FindStringSubmatch(body); ev != nil {
			events := map[string]string{}
			for _, em := range reEventEntry.FindAllStringSubmatch(ev[1], -1) {
				key := strings.TrimSpace(em[1])
				events[key] = key
			}

			sym.Metadata["events"] = events
		}

		result.Symbols = append(result.Symbols, sym)
	}

	for _, m := range reExportDecl.FindAllStringSubmatch(text, -1) {
		kindWord, name := m[1], m[2]
		if groupNames[name] {
			continue
		}

		line, char := lineChar(text, strings.Index(text, m[0]))
		result.Symbols = append(result.Symbols, model.Symbol{
			Name:         name,
			Kind:         declKind(kindWord),
			IsDefinition: true,
			IsExported:   true,
			Location:     model.Location{URI: fileURI, Line: line, Char: char},
		})
	}

	for _, m := range reNewCall.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		line, char := lineChar(text, m[0])
		result.References = append(result.References, model.Reference{
			SymbolName: name,
			Location:   model.Location{URI: fileURI, Line: line, Char: char},
		})
	}

	for _, m := range reMemberCall.FindAllStringSubmatchIndex(text, -1) {
		container := text[m[2]:m[3]]
		member := text[m[4]:m[5]]
		line, char := lineChar(text, m[0])

		if _, ok := imported[container]; ok {
			result.PendingReferences = append(result.PendingReferences, model.PendingReference{
				Container: container,
				Member:    member,
				Location:  model.Location{URI: fileURI, Line: line, Char: char},
			})
		}
	}

	return result, nil
}

func declKind(word string) model.Kind {
	switch word {
	case "class":
		return model.KindClass
	case "interface":
		return model.KindInterface
	case "function":
		return model.KindFunction
	default:
		return model.KindVariable
	}
}

func lineChar(text string, byteOffset int) (line, char int) {
	if byteOffset < 0 {
		return 0, 0
	}

	prefix := text[:byteOffset]
	line = strings.Count(prefix, "\n")

	if idx := strings.LastIndexByte(prefix, '\n'); idx >= 0 {
		char = len(prefix) - idx - 1
	} else {
		char = len(prefix)
	}

	return line, char
}
