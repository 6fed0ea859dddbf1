package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"memberportal/api/internal/classify"
	"memberportal/api/internal/member"
	"memberportal/api/internal/search"
	"memberportal/api/internal/store"
)

// CategoryRecord is one category of a staff lookup. Error is set instead of
// Data when that category could not be fetched.
type CategoryRecord struct {
	Category member.Category `json:"category"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// MemberLookup is the read-only view staff get of a member.
type MemberLookup struct {
	MemberID   member.ID             `json:"memberId"`
	Tier       classify.Result       `json:"tier"`
	Categories []CategoryRecord      `json:"categories"`
	Directory  *store.DirectoryEntry `json:"directory,omitempty"`
}

type recordGetter interface {
	Get(ctx context.Context, id member.ID, category member.Category) (member.Envelope, error)
}

// FetchCategories reads every category of a member through records, four at
// a time. A failed category is reported in place; the others still load.
func FetchCategories(ctx context.Context, records recordGetter, id member.ID) []CategoryRecord {
	out := make([]CategoryRecord, len(member.AllCategories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, category := range member.AllCategories {
		i, category := i, category
		g.Go(func() error {
			out[i].Category = category
			env, err := records.Get(gctx, id, category)
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			if env.HasData() {
				out[i].Data = env.Data
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// LookupMember assembles a staff view of memberID from the shared cache, the
// classifier and the directory.
func (s *Service) LookupMember(ctx context.Context, memberID string) (MemberLookup, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return MemberLookup{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "memberId is required", nil)
	}
	id := member.ID(memberID)

	var (
		categories []CategoryRecord
		tier       classify.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		categories = FetchCategories(gctx, s.cache, id)
		return nil
	})
	g.Go(func() error {
		tier = s.classifier.Classify(gctx, id)
		return nil
	})
	_ = g.Wait()

	lookup := MemberLookup{MemberID: id, Tier: tier, Categories: categories}
	if s.store != nil {
		entry, err := s.store.GetDirectoryEntry(ctx, memberID)
		switch {
		case err == nil:
			lookup.Directory = &entry
		case !errors.Is(err, store.ErrNotFound):
			s.log.Warn("directory lookup failed", zap.String("member", memberID), zap.Error(err))
		}
	}
	return lookup, nil
}

// SearchDirectory runs a staff directory search.
func (s *Service) SearchDirectory(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// InvalidateMember drops every cached category of a member so the next read
// goes to the CRM.
func (s *Service) InvalidateMember(memberID string) (time.Time, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return time.Time{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "memberId is required", nil)
	}
	s.cache.InvalidateAll(member.ID(memberID))
	s.log.Info("member cache invalidated", zap.String("member", memberID))
	return time.Now().UTC(), nil
}
