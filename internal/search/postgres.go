package search

import (
	"context"
	"strings"

	"memberportal/api/internal/store"
)

// Directory is the Postgres side of the member directory.
type Directory interface {
	SearchDirectory(ctx context.Context, q, tier string, limit, offset int) ([]store.DirectoryEntry, int, error)
	AllDirectoryEntries(ctx context.Context) ([]store.DirectoryEntry, error)
}

// Postgres implements Searcher with ILIKE matching over member_directory.
// It is the fallback when Meilisearch is unconfigured or unhealthy.
type Postgres struct {
	dir Directory
}

func NewPostgres(dir Directory) *Postgres {
	return &Postgres{dir: dir}
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalize(q)
	entries, total, err := p.dir.SearchDirectory(ctx, q.Text, q.Tier, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		results = append(results, entryToResult(entry))
	}
	return results, total, nil
}

// LoadAll returns every directory entry as an indexable document.
func (p *Postgres) LoadAll(ctx context.Context) ([]Member, error) {
	entries, err := p.dir.AllDirectoryEntries(ctx)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(entries))
	for _, entry := range entries {
		members = append(members, FromEntry(entry))
	}
	return members, nil
}

// FromEntry converts a directory row to an index document.
func FromEntry(entry store.DirectoryEntry) Member {
	return Member{
		MemberID:  entry.MemberID,
		FullName:  entry.FullName,
		FirstName: entry.FirstName,
		LastName:  entry.LastName,
		Email:     entry.Email,
		Phone:     entry.Phone,
		City:      entry.City,
		State:     entry.State,
		Country:   entry.Country,
		Tier:      entry.Tier,
		UpdatedAt: entry.UpdatedAt,
	}
}

func entryToResult(entry store.DirectoryEntry) Result {
	return Result{
		MemberID: entry.MemberID,
		FullName: entry.FullName,
		Email:    entry.Email,
		Location: location(entry.City, entry.State, entry.Country),
		Tier:     entry.Tier,
	}
}
