// Package catalog persists deduplicated entities in SQLite. Lookup
// identifiers are globally unique: at most one entity ever owns a given
// (type, value) pair, enforced by the database itself so concurrent
// resolutions cannot race a duplicate into existence.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/resolver"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	cover_path TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entity_lookup_ids (
	id_type TEXT NOT NULL,
	id_value TEXT NOT NULL,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	UNIQUE(id_type, id_value)
);

CREATE INDEX IF NOT EXISTS idx_lookup_entity ON entity_lookup_ids(entity_id);
`

// Store is the SQLite-backed resolver.Store implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to catalog database: %w", err), closeErr)
	}
	if _, err := db.Exec(schema); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to create catalog tables: %w", err), closeErr)
	}
	return &Store{db: db}, nil
}

// OpenDefault opens the catalog at the configured location (catalog.dbfile).
func OpenDefault() (*Store, error) {
	path := viper.GetString("catalog.dbfile")
	if path == "" {
		path = "./catalog.db"
	}
	return Open(path)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindEntityByIdentifier returns the entity owning the identifier, or
// (nil, nil) when none does.
func (s *Store) FindEntityByIdentifier(ctx context.Context, t ids.Type, v string) (*resolver.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.kind, e.metadata, e.cover_path
		FROM entities e
		JOIN entity_lookup_ids l ON l.entity_id = e.id
		WHERE l.id_type = ? AND l.id_value = ?
	`, string(t), v)
	return s.scanEntity(ctx, row)
}

// FindEntityByID returns the entity with the given row id, or (nil, nil).
func (s *Store) FindEntityByID(ctx context.Context, id int64) (*resolver.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, metadata, cover_path FROM entities WHERE id = ?
	`, id)
	return s.scanEntity(ctx, row)
}

func (s *Store) scanEntity(ctx context.Context, row *sql.Row) (*resolver.Entity, error) {
	var (
		e        resolver.Entity
		kind     string
		metadata string
	)
	err := row.Scan(&e.ID, &kind, &metadata, &e.CoverPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}
	e.Kind = model.EntityKind(kind)
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt entity metadata for %d: %w", e.ID, err)
	}
	if e.LookupIDs, err = s.lookupIDs(ctx, e.ID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) lookupIDs(ctx context.Context, entityID int64) (map[ids.Type]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id_type, id_value FROM entity_lookup_ids WHERE entity_id = ?
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lookup ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[ids.Type]string{}
	for rows.Next() {
		var t, v string
		if err := rows.Scan(&t, &v); err != nil {
			return nil, fmt.Errorf("failed to scan lookup id: %w", err)
		}
		out[ids.Type(t)] = v
	}
	return out, rows.Err()
}

// CreateEntity persists a new entity and claims its lookup identifiers in
// one transaction. When another entity already owns one of the
// identifiers, the insert rolls back and the content is attached to the
// existing entity instead, so an identifier creates at most one entity no
// matter how many resolutions race on it.
func (s *Store) CreateEntity(ctx context.Context, kind model.EntityKind, content *model.CanonicalContent) (*resolver.Entity, error) {
	metadata, err := json.Marshal(content.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO entities (kind, metadata, cover_path) VALUES (?, ?, ?)
	`, string(kind), string(metadata), content.Metadata.String("cover_path"))
	if err != nil {
		return nil, fmt.Errorf("failed to insert entity: %w", err)
	}
	entityID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read entity id: %w", err)
	}

	for t, v := range content.LookupIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_lookup_ids (id_type, id_value, entity_id) VALUES (?, ?, ?)
		`, string(t), v, entityID); err != nil {
			if isUniqueViolation(err) {
				// Lost the race: someone owns this identifier already.
				_ = tx.Rollback()
				existing, findErr := s.FindEntityByIdentifier(ctx, t, v)
				if findErr != nil {
					return nil, findErr
				}
				if existing == nil {
					return nil, fmt.Errorf("identifier %s:%s claimed but owner not found", t, v)
				}
				return s.AttachContent(ctx, existing, content)
			}
			return nil, fmt.Errorf("failed to insert lookup id %s:%s: %w", t, v, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entity: %w", err)
	}
	return s.FindEntityByID(ctx, entityID)
}

// AttachContent merges content into an existing entity. Populated fields
// are never overwritten; new fields and new lookup identifiers are
// admitted. An identifier claimed by a different entity is left where it
// is.
func (s *Store) AttachContent(ctx context.Context, e *resolver.Entity, content *model.CanonicalContent) (*resolver.Entity, error) {
	merged := mergeMetadata(e.Metadata, content.Metadata)
	metadata, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	coverPath := e.CoverPath
	if coverPath == "" {
		coverPath = content.Metadata.String("cover_path")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET metadata = ?, cover_path = ? WHERE id = ?
	`, string(metadata), coverPath, e.ID); err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}

	for t, v := range content.LookupIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO entity_lookup_ids (id_type, id_value, entity_id) VALUES (?, ?, ?)
		`, string(t), v, e.ID); err != nil {
			return nil, fmt.Errorf("failed to attach lookup id %s:%s: %w", t, v, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit attach: %w", err)
	}
	return s.FindEntityByID(ctx, e.ID)
}

// mergeMetadata overlays incoming onto existing without losing data:
// a field already carrying a value keeps it, except localized text
// slices, which are unioned.
func mergeMetadata(existing, incoming model.Metadata) model.Metadata {
	merged := model.Metadata{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		current, present := merged[k]
		if !present || isEmptyValue(current) {
			merged[k] = v
			continue
		}
		if union, ok := unionLocalized(current, v); ok {
			merged[k] = union
		}
	}
	return merged
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	}
	return false
}

// unionLocalized merges two localized-text values when both sides look
// like []LocalizedText (possibly JSON-decoded as []any of maps).
func unionLocalized(current, incoming any) ([]model.LocalizedText, bool) {
	a, aok := asLocalized(current)
	b, bok := asLocalized(incoming)
	if !aok || !bok {
		return nil, false
	}
	return model.UniqLocalized(append(a, b...)), true
}

func asLocalized(v any) ([]model.LocalizedText, bool) {
	switch val := v.(type) {
	case []model.LocalizedText:
		return val, true
	case []any:
		out := make([]model.LocalizedText, 0, len(val))
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			lang, _ := m["lang"].(string)
			text, _ := m["text"].(string)
			if text == "" {
				return nil, false
			}
			out = append(out, model.LocalizedText{Lang: lang, Text: text})
		}
		return out, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
