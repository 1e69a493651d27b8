package urlnorm

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/shiranui/newsdigest/internal/apperr"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

func tokenize(text string) []string {
	normalized := strings.ToLower(norm.NFKC.String(text))
	return wordRe.FindAllString(normalized, -1)
}

// tokenHashBit reports bit i of the token digest interpreted as a big-endian
// integer. Bits beyond the digest width read as zero.
func tokenHashBit(digest [md5.Size]byte, i int) bool {
	if i >= md5.Size*8 {
		return false
	}
	return digest[md5.Size-1-i/8]&(1<<(i%8)) != 0
}

// Simhash computes a locality-sensitive fingerprint of the text: similar
// inputs produce fingerprints with small Hamming distance. The result is a
// hex string of bits/4 characters; empty input yields all zeros. bits must be
// a positive multiple of 8 or a ConfigError is returned.
func Simhash(text string, bits int) (string, error) {
	if bits <= 0 || bits%8 != 0 {
		return "", apperr.NewConfigError("simhash bit width must be a positive multiple of 8, got %d", bits)
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return strings.Repeat("0", bits/4), nil
	}

	vector := make([]int, bits)
	for _, token := range tokens {
		digest := md5.Sum([]byte(token))
		for i := 0; i < bits; i++ {
			if tokenHashBit(digest, i) {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	out := make([]byte, bits/8)
	for i, weight := range vector {
		if weight > 0 {
			out[len(out)-1-i/8] |= 1 << (i % 8)
		}
	}
	return hex.EncodeToString(out), nil
}

// Fingerprint bundles the identifiers computed for one article. The simhash
// comparison policy (Hamming-distance cutoff) belongs to the storage side;
// this package only computes the values.
type Fingerprint struct {
	NormalizedURL string `json:"normalized_url"`
	URLHash       string `json:"url_hash"`
	ContentHash   string `json:"content_hash"`
	Simhash       string `json:"simhash"`
}

// ComputeFingerprint normalizes the link and hashes the body in one pass.
func ComputeFingerprint(link, body string, bits int) (Fingerprint, error) {
	normalized, urlHash := Normalize(link)
	sim, err := Simhash(body, bits)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		NormalizedURL: normalized,
		URLHash:       urlHash,
		ContentHash:   ContentHash(body),
		Simhash:       sim,
	}, nil
}
