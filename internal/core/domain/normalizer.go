package domain

import (
	"fmt"
	"net/netip"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
}

// Normalize returns the canonical form of token for the given type. Two
// tokens with the same canonical form and type are the same indicator.
func Normalize(token string, t IOCType) (string, error) {
	token = strings.TrimSpace(token)

	switch t {
	case IPv4:
		octets, ok := parseIPv4(token)
		if !ok {
			return "", fmt.Errorf("ipv4 %q: %w", token, ErrNormalization)
		}
		return fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3]), nil

	case IPv6:
		if !IsIPv6(token) {
			return "", fmt.Errorf("ipv6 %q: %w", token, ErrNormalization)
		}
		return netip.MustParseAddr(token).String(), nil

	case URL:
		return normalizeURL(token)

	case Domain:
		d := strings.ToLower(strings.TrimSuffix(token, "."))
		if !IsDomain(d) {
			return "", fmt.Errorf("domain %q: %w", token, ErrNormalization)
		}
		return d, nil

	case HashMD5, HashSHA1, HashSHA256:
		if !isHex(token) || len(token) != hashLength(t) {
			return "", fmt.Errorf("%s %q: %w", t, token, ErrNormalization)
		}
		return strings.ToLower(token), nil
	}

	return "", fmt.Errorf("unsupported type %q: %w", t, ErrNormalization)
}

// Canonicalize classifies and normalizes a raw token in one step.
func Canonicalize(token string) (Key, Level, error) {
	t, confidence, err := Classify(token)
	if err != nil {
		return Key{}, LevelUnknown, err
	}
	value, err := Normalize(token, t)
	if err != nil {
		return Key{}, LevelUnknown, err
	}
	return Key{Indicator: value, Type: t}, confidence, nil
}

func hashLength(t IOCType) int {
	switch t {
	case HashMD5:
		return 32
	case HashSHA1:
		return 40
	default:
		return 64
	}
}

// normalizeURL lower-cases scheme and host and drops a default port. Path,
// query and fragment are kept byte for byte, except that a bare root path
// "/" is removed.
func normalizeURL(raw string) (string, error) {
	if !IsURL(raw) {
		return "", fmt.Errorf("url %q: %w", raw, ErrNormalization)
	}

	sep := strings.Index(raw, "://")
	scheme := strings.ToLower(raw[:sep])
	rest := raw[sep+3:]

	authority := rest
	tail := ""
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority, tail = rest[:i], rest[i:]
	}

	userinfo := ""
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		userinfo, authority = authority[:i+1], authority[i+1:]
	}

	host, port := splitHostPort(authority)
	if host == "" {
		return "", fmt.Errorf("url %q has no host: %w", raw, ErrNormalization)
	}
	host = canonicalHost(strings.ToLower(strings.TrimSuffix(host, ".")))
	if port == defaultPorts[scheme] {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}

	if tail == "/" || strings.HasPrefix(tail, "/?") || strings.HasPrefix(tail, "/#") {
		tail = tail[1:]
	}

	return scheme + "://" + userinfo + host + tail, nil
}

// canonicalHost renders IP literals the way the ipv4 and ipv6 types are
// stored, so the same address always yields the same URL.
func canonicalHost(host string) string {
	if octets, ok := parseIPv4(host); ok {
		return fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3])
	}
	if IsIPv6(host) {
		return netip.MustParseAddr(host).String()
	}
	return host
}

func splitHostPort(hostport string) (host, port string) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end < 0 {
			return "", ""
		}
		host = hostport[1:end]
		if rest := hostport[end+1:]; strings.HasPrefix(rest, ":") {
			port = rest[1:]
		}
		return host, port
	}
	if i := strings.LastIndex(hostport, ":"); i >= 0 {
		return hostport[:i], hostport[i+1:]
	}
	return hostport, ""
}
