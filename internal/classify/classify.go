// Package classify resolves a member's tier. A failed classification never
// blocks the portal: the member is treated as Basic and the result is marked
// degraded.
package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"memberportal/api/internal/crm"
	"memberportal/api/internal/member"
)

// Source is the CRM classification endpoint.
type Source interface {
	Classify(ctx context.Context, id member.ID) (crm.Classification, error)
}

// Result is the tier for one member. Degraded is set when the lookup failed
// and Tier fell back to Basic.
type Result struct {
	Tier         member.Tier    `json:"tier"`
	Details      map[string]any `json:"details,omitempty"`
	Degraded     bool           `json:"degraded"`
	ClassifiedAt time.Time      `json:"classifiedAt"`
}

type Classifier struct {
	source Source
	logger *zap.Logger
	now    func() time.Time
}

func New(source Source, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{source: source, logger: logger, now: time.Now}
}

// Classify never returns an error.
func (c *Classifier) Classify(ctx context.Context, id member.ID) Result {
	got, err := c.source.Classify(ctx, id)
	if err != nil {
		c.logger.Warn("member classification failed; using Basic",
			zap.String("member", id.String()),
			zap.Error(err),
		)
		return Result{Tier: member.TierBasic, Degraded: true, ClassifiedAt: c.now().UTC()}
	}
	if !got.Category.Known() {
		c.logger.Info("member has unrecognised tier",
			zap.String("member", id.String()),
			zap.String("tier", string(got.Category)),
		)
	}
	return Result{Tier: got.Category, Details: got.Details, ClassifiedAt: c.now().UTC()}
}

// AffectsTier reports whether saving section can change the member's tier,
// in which case the session's cached classification should be refreshed.
func AffectsTier(section member.Section) bool {
	switch section {
	case member.SectionCryoArrangements, member.SectionFunding, member.SectionLegal:
		return true
	default:
		return false
	}
}
