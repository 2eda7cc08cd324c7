package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a card id has no catalog row.
var ErrNotFound = errors.New("catalog: card not found")

// FingerprintRow is one stored (card, algorithm) fingerprint.
// Kind names the perceptual-hash algorithm ("ahash", "dhash", "phash",
// "whash", plus "_art" variants covering the illustration box only).
type FingerprintRow struct {
	CardID      string
	Kind        string
	Fingerprint []byte
}

// EmbeddingRow is one stored per-card embedding BLOB (float32 LE).
type EmbeddingRow struct {
	CardID    string
	Embedding []byte
}

// Store manages reference data persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database and applies migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) applyMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			set_id           TEXT NOT NULL DEFAULT '',
			set_name         TEXT NOT NULL DEFAULT '',
			series           TEXT NOT NULL DEFAULT '',
			number           TEXT NOT NULL DEFAULT '',
			rarity           TEXT NOT NULL DEFAULT '',
			category         TEXT NOT NULL DEFAULT '',
			hp               TEXT NOT NULL DEFAULT '',
			types            TEXT NOT NULL DEFAULT '',
			image_url        TEXT NOT NULL DEFAULT '',
			local_image_path TEXT NOT NULL DEFAULT '',
			variants         TEXT NOT NULL DEFAULT '',
			set_total        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS card_hashes (
			card_id     TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			kind        TEXT NOT NULL,
			fingerprint BLOB NOT NULL,
			PRIMARY KEY (card_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS card_embeddings (
			card_id   TEXT PRIMARY KEY REFERENCES cards(id) ON DELETE CASCADE,
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_hashes_kind ON card_hashes(kind, card_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// UpsertCards inserts or updates catalog rows in one transaction.
// Enrichment columns are preserved on update.
func (s *Store) UpsertCards(ctx context.Context, cards []Card) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (id, name, set_id, set_name, series, number, rarity, category, hp, types, image_url, local_image_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name             = excluded.name,
			set_id           = excluded.set_id,
			set_name         = excluded.set_name,
			series           = excluded.series,
			number           = excluded.number,
			rarity           = excluded.rarity,
			category         = excluded.category,
			hp               = excluded.hp,
			types            = excluded.types,
			image_url        = CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE cards.image_url END,
			local_image_path = CASE WHEN excluded.local_image_path != '' THEN excluded.local_image_path ELSE cards.local_image_path END
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range cards {
		c := &cards[i]
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.SetID, c.SetName, c.Series,
			c.Number, c.Rarity, c.Category, c.HP, c.Types, c.ImageURL, c.LocalImagePath); err != nil {
			return fmt.Errorf("upsert card %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// CardByID fetches one card. Returns ErrNotFound when absent.
func (s *Store) CardByID(ctx context.Context, id string) (*Card, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, set_id, set_name, series, number, rarity, category, hp, types,
		       image_url, local_image_path, variants, set_total
		FROM cards WHERE id = ?`, id)

	var c Card
	err := row.Scan(&c.ID, &c.Name, &c.SetID, &c.SetName, &c.Series, &c.Number,
		&c.Rarity, &c.Category, &c.HP, &c.Types, &c.ImageURL, &c.LocalImagePath,
		&c.Variants, &c.SetTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query card %s: %w", id, err)
	}
	return &c, nil
}

// AllCards returns every catalog row ordered by id.
func (s *Store) AllCards(ctx context.Context) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, set_id, set_name, series, number, rarity, category, hp, types,
		       image_url, local_image_path, variants, set_total
		FROM cards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ID, &c.Name, &c.SetID, &c.SetName, &c.Series, &c.Number,
			&c.Rarity, &c.Category, &c.HP, &c.Types, &c.ImageURL, &c.LocalImagePath,
			&c.Variants, &c.SetTotal); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// CardCount returns the number of catalog rows.
func (s *Store) CardCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}

// HashedCardCount returns the number of cards with at least one fingerprint.
func (s *Store) HashedCardCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT card_id) FROM card_hashes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hashed cards: %w", err)
	}
	return n, nil
}

// EmbeddedCardCount returns the number of cards with a stored embedding.
func (s *Store) EmbeddedCardCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM card_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embedded cards: %w", err)
	}
	return n, nil
}

// AllFingerprints returns every stored fingerprint of one kind,
// ordered by card id ascending.
func (s *Store) AllFingerprints(ctx context.Context, kind string) ([]FingerprintRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, kind, fingerprint FROM card_hashes
		WHERE kind = ? ORDER BY card_id`, kind)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var out []FingerprintRow
	for rows.Next() {
		var r FingerprintRow
		if err := rows.Scan(&r.CardID, &r.Kind, &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutFingerprints inserts or replaces fingerprint rows in one transaction.
func (s *Store) PutFingerprints(ctx context.Context, rows []FingerprintRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fingerprint upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO card_hashes (card_id, kind, fingerprint)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fingerprint upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.CardID, r.Kind, r.Fingerprint); err != nil {
			return fmt.Errorf("upsert fingerprint %s/%s: %w", r.CardID, r.Kind, err)
		}
	}

	return tx.Commit()
}

// ClearFingerprints removes all stored fingerprints. Used when hash
// parameters change and a full rebuild is needed.
func (s *Store) ClearFingerprints(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM card_hashes`); err != nil {
		return fmt.Errorf("clear fingerprints: %w", err)
	}
	return nil
}

// AllEmbeddings returns every stored embedding ordered by card id ascending.
func (s *Store) AllEmbeddings(ctx context.Context) ([]EmbeddingRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT card_id, embedding FROM card_embeddings ORDER BY card_id`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EmbeddingRow
	for rows.Next() {
		var r EmbeddingRow
		if err := rows.Scan(&r.CardID, &r.Embedding); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutEmbedding inserts or replaces one card's embedding BLOB.
func (s *Store) PutEmbedding(ctx context.Context, cardID string, blob []byte) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO card_embeddings (card_id, embedding)
		VALUES (?, ?)`, cardID, blob); err != nil {
		return fmt.Errorf("upsert embedding %s: %w", cardID, err)
	}
	return nil
}

// CardsWithoutHashes returns cards that have a local reference image but no
// fingerprint of the given kind yet.
func (s *Store) CardsWithoutHashes(ctx context.Context, kind string) ([]Card, error) {
	return s.cardsMissing(ctx, `
		SELECT c.id, c.local_image_path FROM cards c
		WHERE c.local_image_path != ''
		  AND NOT EXISTS (SELECT 1 FROM card_hashes h WHERE h.card_id = c.id AND h.kind = ?)
		ORDER BY c.id`, kind)
}

// CardsWithoutEmbedding returns cards that have a local reference image but
// no stored embedding yet.
func (s *Store) CardsWithoutEmbedding(ctx context.Context) ([]Card, error) {
	return s.cardsMissing(ctx, `
		SELECT c.id, c.local_image_path FROM cards c
		WHERE c.local_image_path != ''
		  AND NOT EXISTS (SELECT 1 FROM card_embeddings e WHERE e.card_id = c.id)
		ORDER BY c.id`)
}

func (s *Store) cardsMissing(ctx context.Context, query string, args ...any) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ID, &c.LocalImagePath); err != nil {
			return nil, fmt.Errorf("scan pending card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// UpdateEnrichment writes the lazily fetched enrichment columns.
func (s *Store) UpdateEnrichment(ctx context.Context, cardID, variantsJSON, setTotal string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cards SET variants = ?, set_total = ? WHERE id = ?`,
		variantsJSON, setTotal, cardID)
	if err != nil {
		return fmt.Errorf("update enrichment %s: %w", cardID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
