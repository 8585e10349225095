package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

func raw(values ...string) []domain.RawIndicator {
	out := make([]domain.RawIndicator, len(values))
	for i, v := range values {
		out[i] = domain.RawIndicator{Value: v}
	}
	return out
}

func TestCollapseBatch_WithinRunDuplicates(t *testing.T) {
	batch := CollapseBatch(nil, raw("1.2.3.4", "1.2.3.4", "1.2.3.4", "1.2.3.04"))

	require.Len(t, batch.Candidates, 1)
	assert.Equal(t, domain.Key{Indicator: "1.2.3.4", Type: domain.IPv4}, batch.Candidates[0].Key)
	assert.Equal(t, 4, batch.Candidates[0].Occurrences)
	assert.Equal(t, 4, batch.Processed)
	assert.Equal(t, 3, batch.Duplicates)
	assert.Equal(t, 0, batch.Skipped)
}

func TestCollapseBatch_SkipsUnrecognized(t *testing.T) {
	batch := CollapseBatch(nil, raw("not_an_ioc", "", "evil.com", "999.1.1.1"))

	require.Len(t, batch.Candidates, 1)
	assert.Equal(t, domain.Domain, batch.Candidates[0].Type)
	assert.Equal(t, 4, batch.Processed)
	assert.Equal(t, 3, batch.Skipped)
	require.Len(t, batch.Rejected, 3)
	for _, err := range batch.Rejected {
		assert.True(t, errors.Is(err, domain.ErrClassification))
	}
	assert.Equal(t, map[string]int{"classification": 3}, batch.SkippedReasons())
}

func TestCollapseBatch_KeepsFirstAppearanceOrder(t *testing.T) {
	sha := strings.Repeat("ab", 32)
	batch := CollapseBatch(nil, raw("evil.com", strings.ToUpper(sha), "8.8.8.8", "EVIL.com.", sha))

	require.Len(t, batch.Candidates, 3)
	assert.Equal(t, "evil.com", batch.Candidates[0].Indicator)
	assert.Equal(t, domain.HashSHA256, batch.Candidates[1].Type)
	assert.Equal(t, sha, batch.Candidates[1].Indicator)
	assert.Equal(t, "8.8.8.8", batch.Candidates[2].Indicator)
	assert.Equal(t, 2, batch.Duplicates)
}

func TestCollapseBatch_FoldsContext(t *testing.T) {
	batch := CollapseBatch(nil, []domain.RawIndicator{
		{Value: "evil.com", ThreatLevel: domain.LevelLow, Metadata: map[string]string{"tag": "phish"}},
		{Value: "Evil.com", ThreatLevel: domain.LevelHigh, Confidence: domain.LevelVeryHigh,
			Metadata: map[string]string{"tag": "c2", "country": "NL"}},
	})

	require.Len(t, batch.Candidates, 1)
	c := batch.Candidates[0]
	assert.Equal(t, domain.LevelHigh, c.ThreatLevel)
	assert.Equal(t, domain.LevelVeryHigh, c.Confidence)
	assert.Equal(t, map[string]string{"tag": "phish", "country": "NL"}, c.Metadata)
}

func TestCollapseBatch_CustomClassifier(t *testing.T) {
	onlyIPv4 := domain.NewClassifier(domain.Matcher{
		Type: domain.IPv4, Confidence: domain.LevelLow, Match: domain.IsIPv4,
	})
	batch := CollapseBatch(onlyIPv4, raw("8.8.8.8", "evil.com"))

	require.Len(t, batch.Candidates, 1)
	assert.Equal(t, domain.LevelLow, batch.Candidates[0].Confidence)
	assert.Equal(t, 1, batch.Skipped)
}

func TestKeyLocker_SameKeySameShard(t *testing.T) {
	l := NewKeyLocker(8)
	k := domain.Key{Indicator: "8.8.8.8", Type: domain.IPv4}
	assert.Equal(t, l.shard(k), l.shard(k))

	unlock := l.Lock(k)
	unlock()
	unlock = l.Lock(k)
	unlock()
}
