// Package resolver drives a URL or bare identifier through the full
// pipeline: route to a site plugin, scrape, follow references and
// reconcile the result against the catalog so re-resolving never creates
// a duplicate entity.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/sites"
)

// State is the pipeline position a resolution reached.
type State string

const (
	StateIdentified          State = "identified"
	StateFetching            State = "fetching"
	StateParsed              State = "parsed"
	StateResolvingReferences State = "resolving_references"
	StateReconciled          State = "reconciled"
	StateFailed              State = "failed"
)

// FailureKind classifies why a resolution failed.
type FailureKind string

const (
	FailUnsupportedSource FailureKind = "unsupported_source"
	FailFetch             FailureKind = "fetch"
	FailParse             FailureKind = "parse"
	FailValidation        FailureKind = "validation"
)

// Entity is one deduplicated catalog row.
type Entity struct {
	ID        int64               `json:"id"`
	Kind      model.EntityKind    `json:"kind"`
	Metadata  model.Metadata      `json:"metadata"`
	LookupIDs map[ids.Type]string `json:"lookup_ids,omitempty"`
	CoverPath string              `json:"cover_path,omitempty"`
}

// Store is the persistence collaborator the resolver reconciles against.
type Store interface {
	// FindEntityByIdentifier returns the entity owning the identifier, or
	// (nil, nil) when none does.
	FindEntityByIdentifier(ctx context.Context, t ids.Type, v string) (*Entity, error)
	// CreateEntity persists a new entity with its lookup identifiers.
	CreateEntity(ctx context.Context, kind model.EntityKind, content *model.CanonicalContent) (*Entity, error)
	// AttachContent merges content into an existing entity without losing
	// already-populated fields.
	AttachContent(ctx context.Context, e *Entity, content *model.CanonicalContent) (*Entity, error)
}

// ImageStore persists cover bytes and returns a stable path.
type ImageStore interface {
	Store(namespace, filenameHint string, data []byte) (string, error)
}

// Result reports how far a resolution got. Failures are part of the
// result, not Go errors: callers inspect State and FailureKind.
type Result struct {
	State          State                   `json:"state"`
	FailureKind    FailureKind             `json:"failure_kind,omitempty"`
	FailureMessage string                  `json:"failure_message,omitempty"`
	Entity         *Entity                 `json:"entity,omitempty"`
	Content        *model.CanonicalContent `json:"content,omitempty"`
	// Skipped lists references dropped to break cycles.
	Skipped []model.ResourceRef `json:"skipped,omitempty"`
}

func failed(kind FailureKind, format string, args ...any) *Result {
	return &Result{
		State:          StateFailed,
		FailureKind:    kind,
		FailureMessage: fmt.Sprintf(format, args...),
	}
}

// Resolver routes identifiers to plugins and reconciles their output.
type Resolver struct {
	registry *sites.Registry
	store    Store
	images   ImageStore
}

// New returns a resolver. images may be nil when covers are not persisted.
func New(registry *sites.Registry, store Store, images ImageStore) *Resolver {
	return &Resolver{registry: registry, store: store, images: images}
}

// ResolveURL resolves a source permalink.
func (r *Resolver) ResolveURL(ctx context.Context, url string) *Result {
	site, id, ok := r.registry.ByURL(url)
	if !ok {
		return failed(FailUnsupportedSource, "no site recognizes url %q", url)
	}
	return r.resolve(ctx, site, id, map[string]bool{})
}

// ResolveID resolves a bare identifier. An empty type is guessed from the
// identifier's shape.
func (r *Resolver) ResolveID(ctx context.Context, t ids.Type, value string) *Result {
	if t == "" {
		guessed, normalized, ok := sites.GuessIDType(value)
		if !ok {
			return failed(FailUnsupportedSource, "cannot classify identifier %q", value)
		}
		t, value = guessed, normalized
	} else {
		normalized, err := ids.Normalize(t, value)
		if err != nil {
			return failed(FailValidation, "invalid %s identifier %q", t, value)
		}
		value = normalized
	}

	site, ok := r.registry.ByIDType(t)
	if !ok {
		return failed(FailUnsupportedSource, "no site handles identifier type %q", t)
	}
	return r.resolve(ctx, site, value, map[string]bool{})
}

// resolve runs one resource through the pipeline. inProgress carries the
// identifiers already being resolved in this session; a reference back
// into the set is skipped rather than refetched, which breaks A→B→A
// cycles with exactly one fetch per resource.
func (r *Resolver) resolve(ctx context.Context, site sites.Site, id string, inProgress map[string]bool) *Result {
	desc := site.Descriptor()
	key := string(desc.IDType) + ":" + id
	inProgress[key] = true

	slog.Debug("resolving resource", "site", desc.Name, "id_type", desc.IDType, "id", id)

	content, err := site.Scrape(ctx, id)
	if err != nil {
		return failed(classifyScrapeError(err), "%s %s: %v", desc.IDType, id, err)
	}

	result := &Result{State: StateParsed, Content: content}

	// The resource's own identifier is a dedup key like any other.
	if err := content.AddLookupID(desc.IDType, id); err != nil {
		return failed(FailValidation, "own identifier rejected: %v", err)
	}

	result.State = StateResolvingReferences
	for _, ref := range content.RequiredRefs() {
		if inProgress[ref.Key()] {
			slog.Debug("breaking reference cycle", "ref", ref.String())
			result.Skipped = append(result.Skipped, ref)
			continue
		}
		child := r.resolveRef(ctx, ref, inProgress)
		if child.State == StateFailed {
			return failed(child.FailureKind, "required reference %s: %s", ref.String(), child.FailureMessage)
		}
		result.Skipped = append(result.Skipped, child.Skipped...)
	}
	for _, ref := range content.RelatedRefs() {
		if inProgress[ref.Key()] {
			result.Skipped = append(result.Skipped, ref)
			continue
		}
		if child := r.resolveRef(ctx, ref, inProgress); child.State == StateFailed {
			// Related references are enrichment only.
			slog.Warn("related reference failed", "ref", ref.String(), "reason", child.FailureMessage)
		}
	}

	entity, err := r.reconcile(ctx, desc, id, content)
	if err != nil {
		return failed(FailValidation, "reconcile %s %s: %v", desc.IDType, id, err)
	}

	result.State = StateReconciled
	result.Entity = entity
	return result
}

func (r *Resolver) resolveRef(ctx context.Context, ref model.ResourceRef, inProgress map[string]bool) *Result {
	site, ok := r.registry.ByIDType(ref.IDType)
	if !ok {
		return failed(FailUnsupportedSource, "no site handles identifier type %q", ref.IDType)
	}
	return r.resolve(ctx, site, ref.IDValue, inProgress)
}

// reconcile matches the content's identifiers against the catalog: the
// first identifier already owned by an entity wins and the content is
// merged into it, otherwise a new entity is created.
func (r *Resolver) reconcile(ctx context.Context, desc sites.Descriptor, id string, content *model.CanonicalContent) (*Entity, error) {
	r.storeCover(desc, id, content)

	for t, v := range content.LookupIDs {
		if !ids.Validate(t, v) {
			return nil, &ids.ValidationError{Type: t, Value: v}
		}
		existing, err := r.store.FindEntityByIdentifier(ctx, t, v)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			slog.Debug("deduplicated to existing entity", "entity", existing.ID, "id_type", t, "id", v)
			return r.store.AttachContent(ctx, existing, content)
		}
	}

	kind := content.Kind
	if kind == "" || kind == model.KindUnknown {
		kind = desc.DefaultKind
	}
	return r.store.CreateEntity(ctx, kind, content)
}

// storeCover persists downloaded cover bytes. Best-effort: a failed
// store leaves the entity coverless, never failing the resolution.
func (r *Resolver) storeCover(desc sites.Descriptor, id string, content *model.CanonicalContent) {
	if r.images == nil || len(content.CoverImage) == 0 {
		return
	}
	path, err := r.images.Store(desc.Name, id+content.CoverExt, content.CoverImage)
	if err != nil {
		slog.Warn("cover store failed", "site", desc.Name, "id", id, "error", err)
		return
	}
	content.Metadata["cover_path"] = path
}

func classifyScrapeError(err error) FailureKind {
	var parseErr *sites.ParseError
	if errors.As(err, &parseErr) {
		return FailParse
	}
	var validationErr *ids.ValidationError
	if errors.As(err, &validationErr) {
		return FailValidation
	}
	var dlErr *fetch.DownloadError
	if errors.As(err, &dlErr) && dlErr.Kind == fetch.KindInvalidContent {
		return FailParse
	}
	return FailFetch
}
