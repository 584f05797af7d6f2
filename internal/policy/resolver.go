package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store persists raw policy documents. GetPolicy returns nil, nil when the
// guild has no stored override.
type Store interface {
	GetPolicy(ctx context.Context, guildID string) ([]byte, error)
	SavePolicy(ctx context.Context, guildID string, raw []byte) error
}

// CompiledRegex pairs a custom filter with its compiled pattern.
type CompiledRegex struct {
	RegexFilter
	Re *regexp.Regexp
}

// Compiled is a resolved policy with its patterns compiled once.
type Compiled struct {
	GuildID  string
	Policy   Policy
	BadWords []*regexp.Regexp
	Regex    []CompiledRegex
}

type Resolver struct {
	store  Store
	logger *zap.Logger
	cache  *expirable.LRU[string, *Compiled]
	group  singleflight.Group
}

func NewResolver(store Store, logger *zap.Logger, size int, ttl time.Duration) *Resolver {
	if size <= 0 {
		size = 1024
	}
	return &Resolver{
		store:  store,
		logger: logger,
		cache:  expirable.NewLRU[string, *Compiled](size, nil, ttl),
	}
}

// Get never fails: storage and parse errors fall back to Default for the
// guild and are logged.
func (r *Resolver) Get(ctx context.Context, guildID string) *Compiled {
	if compiled, ok := r.cache.Get(guildID); ok {
		return compiled
	}
	value, _, _ := r.group.Do(guildID, func() (any, error) {
		compiled := r.load(ctx, guildID)
		r.cache.Add(guildID, compiled)
		return compiled, nil
	})
	return value.(*Compiled)
}

func (r *Resolver) Save(ctx context.Context, guildID string, p Policy) error {
	raw, err := Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := r.store.SavePolicy(ctx, guildID, raw); err != nil {
		return err
	}
	r.cache.Remove(guildID)
	return nil
}

func (r *Resolver) Invalidate(guildID string) {
	r.cache.Remove(guildID)
}

func (r *Resolver) load(ctx context.Context, guildID string) *Compiled {
	p := Default()
	raw, err := r.store.GetPolicy(ctx, guildID)
	switch {
	case err != nil:
		r.logger.Warn("policy load failed, using defaults", zap.String("guild_id", guildID), zap.Error(err))
	case raw != nil:
		parsed, err := Parse(raw)
		if err != nil {
			r.logger.Warn("policy invalid, using defaults", zap.String("guild_id", guildID), zap.Error(err))
		} else {
			p = parsed
		}
	}
	return Compile(guildID, p, r.logger)
}

// Compile builds the matchers for p. Patterns that fail to compile are
// dropped with a warning.
func Compile(guildID string, p Policy, logger *zap.Logger) *Compiled {
	c := &Compiled{GuildID: guildID, Policy: p}
	for _, word := range p.BadWords.Words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		expr := `\b` + regexp.QuoteMeta(word) + `\b`
		if !p.BadWords.CaseSensitive {
			expr = "(?i)" + expr
		}
		c.BadWords = append(c.BadWords, regexp.MustCompile(expr))
	}
	for _, filter := range p.RegexFilters {
		re, err := regexp.Compile(filter.Pattern)
		if err != nil || filter.Pattern == "" {
			logger.Warn("regex filter skipped", zap.String("guild_id", guildID), zap.String("pattern", filter.Pattern), zap.Error(err))
			continue
		}
		c.Regex = append(c.Regex, CompiledRegex{RegexFilter: filter, Re: re})
	}
	return c
}
