package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertSectionSave(ctx context.Context, item SectionSave) error {
	categories, err := json.Marshal(nonNil(item.Categories))
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	changed, err := json.Marshal(nonNil(item.ChangedFields))
	if err != nil {
		return fmt.Errorf("marshal changed fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO section_saves (id, member_id, section, tier, categories, changed_fields, saved_by, saved_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
	`, item.ID, item.MemberID, item.Section, item.Tier, string(categories), string(changed), item.SavedBy, item.SavedAt)
	if err != nil {
		return fmt.Errorf("insert section save: %w", err)
	}
	return nil
}

// ListSectionSaves returns a member's saves, newest first.
func (s *PostgresStore) ListSectionSaves(ctx context.Context, memberID string, limit int) ([]SectionSave, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, section, tier, categories, changed_fields, saved_by, saved_at
		FROM section_saves
		WHERE member_id = $1
		ORDER BY saved_at DESC, id DESC
		LIMIT $2
	`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list section saves: %w", err)
	}
	defer rows.Close()

	items := make([]SectionSave, 0)
	for rows.Next() {
		var (
			item       SectionSave
			categories []byte
			changed    []byte
		)
		if err := rows.Scan(&item.ID, &item.MemberID, &item.Section, &item.Tier, &categories, &changed, &item.SavedBy, &item.SavedAt); err != nil {
			return nil, fmt.Errorf("scan section save: %w", err)
		}
		if err := json.Unmarshal(categories, &item.Categories); err != nil {
			return nil, fmt.Errorf("decode categories: %w", err)
		}
		if err := json.Unmarshal(changed, &item.ChangedFields); err != nil {
			return nil, fmt.Errorf("decode changed fields: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpsertDirectoryEntry merges entry into the directory. Empty fields leave
// the stored value alone, so each section save only contributes what it knows.
func (s *PostgresStore) UpsertDirectoryEntry(ctx context.Context, entry DirectoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member_directory (member_id, full_name, first_name, last_name, email, phone, city, state, country, tier, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (member_id) DO UPDATE SET
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), member_directory.full_name),
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), member_directory.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), member_directory.last_name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), member_directory.email),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), member_directory.phone),
			city = COALESCE(NULLIF(EXCLUDED.city, ''), member_directory.city),
			state = COALESCE(NULLIF(EXCLUDED.state, ''), member_directory.state),
			country = COALESCE(NULLIF(EXCLUDED.country, ''), member_directory.country),
			tier = COALESCE(NULLIF(EXCLUDED.tier, ''), member_directory.tier),
			updated_at = NOW()
	`, entry.MemberID, entry.FullName, entry.FirstName, entry.LastName, entry.Email, entry.Phone,
		entry.City, entry.State, entry.Country, entry.Tier)
	if err != nil {
		return fmt.Errorf("upsert directory entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDirectoryEntry(ctx context.Context, memberID string) (DirectoryEntry, error) {
	var entry DirectoryEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id, full_name, first_name, last_name, email, phone, city, state, country, tier, updated_at
		FROM member_directory
		WHERE member_id = $1
	`, memberID).Scan(&entry.MemberID, &entry.FullName, &entry.FirstName, &entry.LastName, &entry.Email,
		&entry.Phone, &entry.City, &entry.State, &entry.Country, &entry.Tier, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DirectoryEntry{}, ErrNotFound
	}
	if err != nil {
		return DirectoryEntry{}, fmt.Errorf("get directory entry: %w", err)
	}
	return entry, nil
}

// SearchDirectory matches q against name, email and member id with ILIKE. An
// empty tier matches every tier.
func (s *PostgresStore) SearchDirectory(ctx context.Context, q, tier string, limit, offset int) ([]DirectoryEntry, int, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(q)) + "%"
	const where = `
		WHERE (full_name ILIKE $1 OR email ILIKE $1 OR member_id ILIKE $1)
			AND ($2 = '' OR tier = $2)
	`
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM member_directory`+where, pattern, tier).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count directory: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, full_name, first_name, last_name, email, phone, city, state, country, tier, updated_at
		FROM member_directory`+where+`
		ORDER BY LOWER(full_name), member_id
		LIMIT $3 OFFSET $4
	`, pattern, tier, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search directory: %w", err)
	}
	defer rows.Close()

	items := make([]DirectoryEntry, 0)
	for rows.Next() {
		var entry DirectoryEntry
		if err := rows.Scan(&entry.MemberID, &entry.FullName, &entry.FirstName, &entry.LastName, &entry.Email,
			&entry.Phone, &entry.City, &entry.State, &entry.Country, &entry.Tier, &entry.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan directory entry: %w", err)
		}
		items = append(items, entry)
	}
	return items, total, rows.Err()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// AllDirectoryEntries returns the whole directory, for reindexing.
func (s *PostgresStore) AllDirectoryEntries(ctx context.Context) ([]DirectoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, full_name, first_name, last_name, email, phone, city, state, country, tier, updated_at
		FROM member_directory
		ORDER BY member_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	defer rows.Close()

	items := make([]DirectoryEntry, 0)
	for rows.Next() {
		var entry DirectoryEntry
		if err := rows.Scan(&entry.MemberID, &entry.FullName, &entry.FirstName, &entry.LastName, &entry.Email,
			&entry.Phone, &entry.City, &entry.State, &entry.Country, &entry.Tier, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
