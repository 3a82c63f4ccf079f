package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// SlugifyPrefix lowercases s, collapses every run of non-alphanumerics into one
// hyphen and trims hyphens from both ends.
func SlugifyPrefix(s string) string {
	return strings.Trim(nonAlnumRun.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// DeriveFromEmail builds {slug}-b{id}-{6 random [a-z0-9]}@{domain}.
// Only the suffix is random; r defaults to crypto/rand.
func DeriveFromEmail(prefix string, broadcastID int, domain string, r io.Reader) (string, error) {
	suffix, err := randomSuffix(r, 6)
	if err != nil {
		return "", fmt.Errorf("generate sender suffix: %w", err)
	}
	return fmt.Sprintf("%s-b%d-%s@%s", SlugifyPrefix(prefix), broadcastID, suffix, domain), nil
}

func randomSuffix(r io.Reader, n int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	// 252 is the largest multiple of 36 below 256.
	const limit = 252
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, suffixAlphabet[int(b)%len(suffixAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
