package domain

import (
	"net/url"
	"strings"
)

// ExtractIOCComponents expands a raw URL indicator into the URL itself plus
// its host, so that "http://198.0.2.12/malware.sh" also yields "198.0.2.12".
// The host component inherits the feed context and is tagged with the URL it
// came from. Values that are not URLs are returned unchanged.
func ExtractIOCComponents(raw RawIndicator) []RawIndicator {
	components := []RawIndicator{raw}

	value := strings.TrimSpace(raw.Value)
	if !IsURL(value) {
		return components
	}
	u, err := url.Parse(value)
	if err != nil {
		return components
	}
	host := u.Hostname()
	if host == "" || host == value {
		return components
	}

	meta := make(map[string]string, len(raw.Metadata)+1)
	for k, v := range raw.Metadata {
		meta[k] = v
	}
	meta["extracted_from"] = value

	return append(components, RawIndicator{
		Value:       host,
		Confidence:  raw.Confidence,
		ThreatLevel: raw.ThreatLevel,
		Metadata:    meta,
	})
}
