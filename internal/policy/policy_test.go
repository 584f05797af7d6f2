package policy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParsePartialOverrideKeepsDefaults(t *testing.T) {
	p, err := Parse([]byte(`{"spam":{"messageThreshold":8},"filters":{"caps":{"enabled":true}}}`))
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, 8, p.Spam.MessageThreshold)
	assert.Equal(t, d.Spam.TimeWindowSeconds, p.Spam.TimeWindowSeconds)
	assert.Equal(t, d.Spam.Action, p.Spam.Action)
	assert.True(t, p.Filters.Caps.Enabled)
	assert.Equal(t, 0.7, p.Filters.Caps.Threshold)
	assert.Equal(t, 10, p.Filters.Caps.MinLength)
	assert.Equal(t, ActionDelete, p.Filters.Caps.Action)
	assert.NotNil(t, p.Filters.Caps.ExemptChannels)
	assert.Equal(t, d.Raid.Severity, p.Raid.Severity)
}

func TestParseNullsFallBackToDefaults(t *testing.T) {
	p, err := Parse([]byte(`{"exemptRoles":null,"badWords":{"words":null,"action":"explode"},"regexFilters":null}`))
	require.NoError(t, err)
	assert.NotNil(t, p.ExemptRoles)
	assert.NotNil(t, p.BadWords.Words)
	assert.Equal(t, ActionDelete, p.BadWords.Action)
	assert.NotNil(t, p.RegexFilters)
}

func TestParseMalformed(t *testing.T) {
	p, err := Parse([]byte(`{"spam":`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Equal(t, Default(), p)
}

func TestMigrateLegacyShape(t *testing.T) {
	legacy := []byte(`{"caps":true,"linkSpam":{"enabled":true,"maxLinks":1},"spam":{"messageThreshold":5,"timeWindow":3}}`)
	p, err := Parse(legacy)
	require.NoError(t, err)
	assert.Equal(t, Version, p.Version)
	assert.True(t, p.Filters.Caps.Enabled)
	assert.Equal(t, 1, p.Filters.LinkSpam.MaxLinks)
	assert.Equal(t, 3, p.Spam.TimeWindowSeconds)
}

func TestMigrateRejectsNonObject(t *testing.T) {
	_, err := Migrate([]byte(`[1,2]`))
	require.Error(t, err)
	_, err = Migrate([]byte(`{"spam":"fast"}`))
	require.Error(t, err)
}

func TestSeverityMustAscend(t *testing.T) {
	p, err := Parse([]byte(`{"raid":{"severity":{"low":10,"medium":5,"high":20,"critical":30}}}`))
	require.NoError(t, err)
	assert.Equal(t, Default().Raid.Severity, p.Raid.Severity)
}

type memStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	loads int
	err   error
}

func (m *memStore) GetPolicy(ctx context.Context, guildID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.docs[guildID], nil
}

func (m *memStore) SavePolicy(ctx context.Context, guildID string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = make(map[string][]byte)
	}
	m.docs[guildID] = raw
	return nil
}

func TestResolverCachesAndInvalidates(t *testing.T) {
	store := &memStore{docs: map[string][]byte{"g1": []byte(`{"badWords":{"enabled":true,"words":["darn"]},"regexFilters":[{"pattern":"(","action":"delete"},{"pattern":"buy now","action":"warn","reason":"ads"}]}`)}}
	resolver := NewResolver(store, zap.NewNop(), 16, 0)

	c := resolver.Get(context.Background(), "g1")
	require.Len(t, c.BadWords, 1)
	require.Len(t, c.Regex, 1)
	assert.Equal(t, "ads", c.Regex[0].Reason)
	resolver.Get(context.Background(), "g1")
	assert.Equal(t, 1, store.loads)

	updated := c.Policy
	updated.Spam.MessageThreshold = 9
	require.NoError(t, resolver.Save(context.Background(), "g1", updated))
	assert.Equal(t, 9, resolver.Get(context.Background(), "g1").Policy.Spam.MessageThreshold)
	assert.Equal(t, 2, store.loads)
}

func TestResolverFallsBackOnStoreError(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	resolver := NewResolver(store, zap.NewNop(), 16, 0)
	c := resolver.Get(context.Background(), "g1")
	assert.Equal(t, Default(), c.Policy)
}
