package service

import (
	"errors"

	"github.com/hive-corporation/cticollector/internal/core/domain"
)

// Batch is one source payload after within-run collapse.
type Batch struct {
	Candidates []domain.Candidate // first-appearance order
	Processed  int
	Skipped    int
	Duplicates int
	Rejected   []error // one per skipped token
}

// CollapseBatch classifies and normalizes every raw token and groups the
// results by key, so each key reaches the merge engine at most once per
// source per run. Unrecognized tokens are counted as skipped. Context
// attached to duplicates is folded into the surviving candidate: levels take
// the maximum and metadata keys are unioned with the first value winning.
func CollapseBatch(classifier *domain.Classifier, raws []domain.RawIndicator) Batch {
	if classifier == nil {
		classifier = domain.NewClassifier()
	}

	batch := Batch{Processed: len(raws)}
	index := make(map[domain.Key]int, len(raws))

	for _, raw := range raws {
		key, confidence, err := canonicalize(classifier, raw.Value)
		if err != nil {
			batch.Skipped++
			batch.Rejected = append(batch.Rejected, err)
			continue
		}
		if raw.Confidence > confidence {
			confidence = raw.Confidence
		}

		if i, ok := index[key]; ok {
			c := &batch.Candidates[i]
			c.Occurrences++
			c.Confidence = domain.MaxLevel(c.Confidence, confidence)
			c.ThreatLevel = domain.MaxLevel(c.ThreatLevel, raw.ThreatLevel)
			c.Metadata = mergeMetadata(c.Metadata, raw.Metadata, false)
			batch.Duplicates++
			continue
		}

		index[key] = len(batch.Candidates)
		batch.Candidates = append(batch.Candidates, domain.Candidate{
			Key:         key,
			Confidence:  confidence,
			ThreatLevel: raw.ThreatLevel,
			Metadata:    mergeMetadata(nil, raw.Metadata, false),
			Occurrences: 1,
		})
	}

	return batch
}

func canonicalize(classifier *domain.Classifier, token string) (domain.Key, domain.Level, error) {
	t, confidence, err := classifier.Classify(token)
	if err != nil {
		return domain.Key{}, domain.LevelUnknown, err
	}
	value, err := domain.Normalize(token, t)
	if err != nil {
		return domain.Key{}, domain.LevelUnknown, err
	}
	return domain.Key{Indicator: value, Type: t}, confidence, nil
}

// mergeMetadata copies src into dst. With overwrite unset, existing keys
// keep their value. A nil dst is allocated only when src has entries.
func mergeMetadata(dst, src map[string]string, overwrite bool) map[string]string {
	for k, v := range src {
		if dst == nil {
			dst = make(map[string]string, len(src))
		}
		if _, exists := dst[k]; exists && !overwrite {
			continue
		}
		dst[k] = v
	}
	return dst
}

// SkippedReasons tallies rejected tokens by sentinel for logging.
func (b Batch) SkippedReasons() map[string]int {
	reasons := map[string]int{}
	for _, err := range b.Rejected {
		switch {
		case errors.Is(err, domain.ErrNormalization):
			reasons["normalization"]++
		default:
			reasons["classification"]++
		}
	}
	return reasons
}
