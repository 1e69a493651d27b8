// Package urlnorm canonicalizes article URLs and computes the fingerprints
// used for duplicate suppression. All functions are pure; safe to call from
// concurrent workers.
package urlnorm

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are removed from query strings during normalization so that
// the same article shared through different channels hashes identically.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"utm_id":       true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
}

// LinkPolicy describes a per-source exception to the default tracking-param
// handling. Some publishers gate article access on referral parameters, so
// for those sources the params are kept during normalization and added back
// before the link is dispatched.
type LinkPolicy struct {
	HostSuffix   string
	EnsureParams [][2]string
}

var sourceLinkPolicies = map[string]LinkPolicy{
	"straits-times": {
		HostSuffix: "straitstimes.com",
		EnsureParams: [][2]string{
			{"utm_source", "rss"},
			{"utm_medium", "referral"},
		},
	},
}

func trackingExempt(hostname string) bool {
	for _, policy := range sourceLinkPolicies {
		if strings.HasSuffix(hostname, policy.HostSuffix) {
			return true
		}
	}
	return false
}

type queryPair struct {
	key   string
	value string
}

func parseQueryPairs(rawQuery string) []queryPair {
	if rawQuery == "" {
		return nil
	}
	var pairs []queryPair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}
		pairs = append(pairs, queryPair{key: decodedKey, value: decodedValue})
	}
	return pairs
}

func encodeQueryPairs(pairs []queryPair) string {
	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair.value))
	}
	return b.String()
}

// Normalize produces the canonical representation of a URL and its SHA-256
// hash in hex. Steps: default to https when the scheme is missing, lowercase
// scheme and host, collapse default ports, drop the fragment, strip tracking
// params (unless the host is policy-exempt), and sort the remaining query
// parameters for determinism. Normalize is idempotent.
func Normalize(rawURL string) (string, string) {
	trimmed := strings.TrimSpace(rawURL)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		sum := sha256.Sum256([]byte(trimmed))
		return trimmed, hex.EncodeToString(sum[:])
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(parsed.Host)
	if scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" {
		host = strings.TrimSuffix(host, ":443")
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	pairs := parseQueryPairs(parsed.RawQuery)
	hostname := host
	if idx := strings.Index(host, ":"); idx >= 0 {
		hostname = host[:idx]
	}
	if !trackingExempt(hostname) {
		kept := pairs[:0]
		for _, pair := range pairs {
			if !trackingParams[pair.key] {
				kept = append(kept, pair)
			}
		}
		pairs = kept
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	normalized := scheme + "://" + host + path
	if query := encodeQueryPairs(pairs); query != "" {
		normalized += "?" + query
	}

	sum := sha256.Sum256([]byte(normalized))
	return normalized, hex.EncodeToString(sum[:])
}

// EnsureSourceLink applies the per-source link accessibility policy: for
// sources with a registered policy, referral parameters are added back when
// absent. All other sources pass through unchanged.
func EnsureSourceLink(sourceID, rawURL string) string {
	if rawURL == "" {
		return rawURL
	}
	policy, ok := sourceLinkPolicies[sourceID]
	if !ok {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if !strings.HasSuffix(strings.ToLower(parsed.Hostname()), policy.HostSuffix) {
		return rawURL
	}

	pairs := parseQueryPairs(parsed.RawQuery)
	existing := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		existing[pair.key] = true
	}
	updated := false
	for _, param := range policy.EnsureParams {
		if !existing[param[0]] {
			pairs = append(pairs, queryPair{key: param[0], value: param[1]})
			updated = true
		}
	}
	if !updated {
		return rawURL
	}
	parsed.RawQuery = encodeQueryPairs(pairs)
	return parsed.String()
}

// ContentHash returns the SHA-256 hex digest of the article body.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ItemID derives the deterministic idempotency key for a discovered link.
// Re-discovering the same link always yields the same id.
func ItemID(sourceID, normalizedLink, rawLink string) string {
	target := normalizedLink
	if target == "" {
		target = rawLink
	}
	sum := md5.Sum([]byte(target))
	return sourceID + "-" + hex.EncodeToString(sum[:])
}
