package domain

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// Matcher recognizes one IoC type. Matchers are tried in slice order and the
// first match wins, so the order of a matcher list is its precedence.
type Matcher struct {
	Type       IOCType
	Confidence Level
	Match      func(token string) bool
}

// DefaultMatchers orders the syntactically unambiguous shapes first: a 64-char
// hex string must never reach the domain matcher.
var DefaultMatchers = []Matcher{
	{Type: HashMD5, Confidence: LevelHigh, Match: hexOfLength(32)},
	{Type: HashSHA1, Confidence: LevelHigh, Match: hexOfLength(40)},
	{Type: HashSHA256, Confidence: LevelHigh, Match: hexOfLength(64)},
	{Type: IPv4, Confidence: LevelHigh, Match: IsIPv4},
	{Type: IPv6, Confidence: LevelHigh, Match: IsIPv6},
	{Type: URL, Confidence: LevelHigh, Match: IsURL},
	{Type: Domain, Confidence: LevelMedium, Match: IsDomain},
}

type Classifier struct {
	matchers []Matcher
}

// NewClassifier builds a classifier over the given matchers, or over
// DefaultMatchers when none are given.
func NewClassifier(matchers ...Matcher) *Classifier {
	if len(matchers) == 0 {
		matchers = DefaultMatchers
	}
	return &Classifier{matchers: matchers}
}

func (c *Classifier) Matchers() []Matcher {
	return c.matchers
}

// Classify returns the type of token and the confidence of the match.
func (c *Classifier) Classify(token string) (IOCType, Level, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", LevelUnknown, fmt.Errorf("empty token: %w", ErrClassification)
	}
	for _, m := range c.matchers {
		if m.Match(token) {
			return m.Type, m.Confidence, nil
		}
	}
	return "", LevelUnknown, fmt.Errorf("%q: %w", token, ErrClassification)
}

var defaultClassifier = NewClassifier()

// Classify uses DefaultMatchers.
func Classify(token string) (IOCType, Level, error) {
	return defaultClassifier.Classify(token)
}

func hexOfLength(n int) func(string) bool {
	return func(s string) bool {
		return len(s) == n && isHex(s)
	}
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// IsIPv4 accepts four dotted decimal octets in 0-255. Leading zeros are
// allowed here and removed by the normalizer.
func IsIPv4(s string) bool {
	_, ok := parseIPv4(s)
	return ok
}

func parseIPv4(s string) ([4]int, bool) {
	var octets [4]int
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return octets, false
	}
	for i, p := range parts {
		if len(p) == 0 || len(p) > 3 || !isDigits(p) {
			return octets, false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return octets, false
		}
		octets[i] = n
	}
	return octets, true
}

// IsIPv6 validates the address rather than pattern matching it.
func IsIPv6(s string) bool {
	if !strings.Contains(s, ":") {
		return false
	}
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is6() && addr.Zone() == ""
}

// IsURL requires a scheme and an authority. Bare hosts are domains.
func IsURL(s string) bool {
	if strings.ContainsAny(s, " \t\r\n") || !strings.Contains(s, "://") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return u.Hostname() != ""
}

// IsDomain checks hostname label syntax and that the top label is a known
// public suffix.
func IsDomain(s string) bool {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	if len(s) == 0 || len(s) > maxDomainLength {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	allNumeric := true
	for _, label := range labels {
		if !isHostLabel(label) {
			return false
		}
		if !isDigits(label) {
			allNumeric = false
		}
	}
	if allNumeric || isDigits(labels[len(labels)-1]) {
		return false
	}

	suffix, icann := publicsuffix.PublicSuffix(s)
	if !icann && !strings.Contains(suffix, ".") {
		return false
	}
	return len(s) > len(suffix)
}

func isHostLabel(label string) bool {
	if len(label) == 0 || len(label) > maxLabelLength {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
