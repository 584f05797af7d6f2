// Package analytics summarises a guild's moderation cases.
package analytics

import (
	"context"
	"sort"
	"time"

	"sentinel-automod/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total     int
	Automated int
	ByAction  map[string]int
}

// Actions returns the action types in the report, most frequent first.
func (r Report) Actions() []string {
	actions := make([]string, 0, len(r.ByAction))
	for action := range r.ByAction {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool {
		if r.ByAction[actions[i]] != r.ByAction[actions[j]] {
			return r.ByAction[actions[i]] > r.ByAction[actions[j]]
		}
		return actions[i] < actions[j]
	})
	return actions
}

// Report counts cases created at or after since.
func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	cases, err := s.store.ListCases(ctx, guildID)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByAction: make(map[string]int)}
	for _, c := range cases {
		if c.CreatedAt.Before(since.Truncate(time.Second)) {
			continue
		}
		report.Total++
		report.ByAction[c.ActionType]++
		if c.ModeratorID == storage.ModeratorSystem {
			report.Automated++
		}
	}
	return report, nil
}
