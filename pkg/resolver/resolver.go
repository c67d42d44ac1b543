// Package resolver implements the Deferred Resolver: after a bulk
// indexing pass, it binds every "Container.member" PendingReference
// collected during parsing to a concrete Reference pointing at the
// symbol that actually defines Container — work that cannot be done
// file-by-file because Container's definition may live in a file indexed
// after the file that references it.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/lock"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/uri"
)

const lockTTL = 10 * time.Second

// Result summarizes one resolution pass, returned so callers (typically
// the scheduler, after a bulk run) can log or expose it.
type Result struct {
	GroupsFound      int
	Resolved         int
	FallbackResolved int
	ShardsModified   int
	Elapsed          time.Duration
}

// Resolver binds PendingReferences against group-declared symbols.
type Resolver struct {
	index  *bgindex.Index
	locker lock.Locker
}

// New creates a Resolver over index, using locker to serialize concurrent
// binding attempts against the same referencing file.
func New(index *bgindex.Index, locker lock.Locker) *Resolver {
	return &Resolver{index: index, locker: locker}
}

// containerGroup is a discovered group declaration: symbol is the group's
// defining Symbol, whose name, location and declared events it carries.
type containerGroup struct {
	symbol model.Symbol
}

// Resolve runs both resolution phases: it first discovers every group
// symbol in the index (phase one), then walks every file's pending
// references and binds each one against the discovered groups (phase two).
// A pending reference whose container resolves to a group is matched
// against that group's declared events, tried under three casings; one
// whose container isn't a group falls back to a qualified name, covering
// plain re-export chains. Re-running Resolve over an already fully resolved
// index is a no-op: the pending references bound on the first run are
// cleared, so Resolved stays 0 on the second call.
func (r *Resolver) Resolve(ctx context.Context) (Result, error) {
	start := time.Now()

	groupSymbols, err := r.index.AllGroupSymbols(ctx)
	if err != nil {
		return Result{}, err
	}

	groups := make(map[string]containerGroup, len(groupSymbols))
	for _, sym := range groupSymbols {
		groups[sym.Name] = containerGroup{symbol: sym}
	}

	pendingByFile, err := r.index.AllPendingReferences(ctx)
	if err != nil {
		return Result{}, err
	}

	result := Result{GroupsFound: len(groups)}

	for u, pending := range pendingByFile {
		resolvedCount, fallbackCount, newRefs, handled, err := r.resolveFile(groups, u, pending)
		if err != nil {
			return Result{}, err
		}

		if len(newRefs) == 0 {
			continue
		}

		added, err := r.addUnderLock(ctx, u, newRefs)
		if err != nil {
			return Result{}, err
		}

		if added > 0 {
			result.ShardsModified++
		}

		if err := r.index.ClearPendingReferences(ctx, u, handled); err != nil {
			return Result{}, err
		}

		result.Resolved += resolvedCount
		result.FallbackResolved += fallbackCount
	}

	result.Elapsed = time.Since(start)

	return result, nil
}

func (r *Resolver) addUnderLock(ctx context.Context, u uri.URI, refs []model.Reference) (int, error) {
	var added int

	err := lock.WithLock(ctx, r.locker, u.String(), lockTTL, func(ctx context.Context) error {
		n, err := r.index.AddResolvedReferences(ctx, u, refs)
		added = n

		return err
	})

	return added, err
}

// resolveFile binds each pending reference in pending against groups,
// returning the new References to add, and the subset of pending that was
// successfully handled (bound or conclusively unbindable) so the caller
// can clear them. A container found in the group map is resolved against
// that group's declared events map, tried under three casings of member in
// turn; a genuine match synthesizes a bare-name Reference, since that's the
// name findReferencesByName indexes the real declaration under. A container
// absent from the group map falls back to a qualified "container.member"
// name, covering plain re-export chains. A container that is a group but
// whose member doesn't appear in its events map under any casing is left
// pending, in case a later bulk pass updates the group's declaration.
func (r *Resolver) resolveFile(
	groups map[string]containerGroup,
	_ uri.URI,
	pending []model.PendingReference,
) (resolved, fallbackResolved int, newRefs []model.Reference, handled []model.PendingReference, err error) {
	for _, p := range pending {
		group, ok := lookupContainer(groups, p.Container)
		if !ok {
			newRefs = append(newRefs, model.Reference{
				SymbolName:    p.Container + "." + p.Member,
				Location:      p.Location,
				Range:         p.Range,
				ContainerName: p.Container,
			})
			handled = append(handled, p)
			fallbackResolved++

			continue
		}

		underlying, ok := lookupEvent(group.symbol.Events(), p.Member)
		if !ok {
			continue
		}

		newRefs = append(newRefs, model.Reference{
			SymbolName:    underlying,
			Location:      p.Location,
			Range:         p.Range,
			ContainerName: group.symbol.Name,
		})
		handled = append(handled, p)
		resolved++
	}

	return resolved, fallbackResolved, newRefs, handled, nil
}

// lookupContainer finds the group bound to name: an exact match, or a
// qualified suffix match (e.g. "mod.Container" against a group named
// "Container") for containers reached through an aliased import path.
func lookupContainer(groups map[string]containerGroup, name string) (containerGroup, bool) {
	if g, ok := groups[name]; ok {
		return g, true
	}

	for groupName, g := range groups {
		if strings.HasSuffix(name, "."+groupName) {
			return g, true
		}
	}

	return containerGroup{}, false
}

// lookupEvent tests member against a group's declared events map (member ->
// underlying declaration name) with three casings in order: exact,
// camelCase, PascalCase. It returns the underlying name to synthesize a
// Reference for, and whether any casing matched.
func lookupEvent(events map[string]string, member string) (string, bool) {
	if underlying, ok := events[member]; ok {
		return underlying, true
	}

	if camel := toCamelCase(member); camel != member {
		if underlying, ok := events[camel]; ok {
			return underlying, true
		}
	}

	if pascal := toPascalCase(member); pascal != member {
		if underlying, ok := events[pascal]; ok {
			return underlying, true
		}
	}

	return "", false
}

func toCamelCase(s string) string {
	if s == "" {
		return s
	}

	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] += 'a' - 'A'
	}

	return string(r)
}

func toPascalCase(s string) string {
	if s == "" {
		return s
	}

	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}

	return string(r)
}
