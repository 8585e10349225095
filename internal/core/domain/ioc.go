package domain

import (
	"sort"
	"time"
)

type IOCType string

const (
	IPv4       IOCType = "ipv4"
	IPv6       IOCType = "ipv6"
	URL        IOCType = "url"
	Domain     IOCType = "domain"
	HashMD5    IOCType = "hash-md5"
	HashSHA1   IOCType = "hash-sha1"
	HashSHA256 IOCType = "hash-sha256"
)

// AllIOCTypes lists every type the classifier can produce.
var AllIOCTypes = []IOCType{IPv4, IPv6, URL, Domain, HashMD5, HashSHA1, HashSHA256}

func (t IOCType) IsValid() bool {
	for _, valid := range AllIOCTypes {
		if t == valid {
			return true
		}
	}
	return false
}

func (t IOCType) IsHash() bool {
	return t == HashMD5 || t == HashSHA1 || t == HashSHA256
}

func (t IOCType) IsIP() bool {
	return t == IPv4 || t == IPv6
}

// RawIndicator is what a feed hands to the pipeline: a raw token plus
// whatever context the feed attributes to it.
type RawIndicator struct {
	Value       string
	Confidence  Level
	ThreatLevel Level
	Metadata    map[string]string
}

// Key is the dedup key of a historical record.
type Key struct {
	Indicator string
	Type      IOCType
}

func (k Key) String() string {
	return string(k.Type) + "|" + k.Indicator
}

// Candidate is a classified, normalized indicator ready for the merge engine.
// Within one source payload every Key appears at most once.
type Candidate struct {
	Key
	Confidence  Level
	ThreatLevel Level
	Metadata    map[string]string
	Occurrences int // raw tokens collapsed into this candidate
}

// Record is the historical truth about one (indicator, type).
type Record struct {
	Indicator   string            `json:"indicator"`
	Type        IOCType           `json:"type"`
	Sources     []string          `json:"sources"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
	SeenCount   int64             `json:"seen_count"`
	Confidence  Level             `json:"confidence"`
	ThreatLevel Level             `json:"threat_level"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	LastRunID   string            `json:"last_run_id"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (r *Record) Key() Key {
	return Key{Indicator: r.Indicator, Type: r.Type}
}

func (r *Record) HasSource(source string) bool {
	i := sort.SearchStrings(r.Sources, source)
	return i < len(r.Sources) && r.Sources[i] == source
}

// Clone returns a deep copy so callers can mutate without touching
// a store's cached value.
func (r *Record) Clone() *Record {
	c := *r
	c.Sources = append([]string(nil), r.Sources...)
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// UnionSources returns the sorted, de-duplicated union of a and b.
func UnionSources(a []string, b ...string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
