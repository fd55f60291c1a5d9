package loopback

import (
	"errors"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var errBadKeyExpr = errors.New("loopback: invalid key expression")

func validateKeyExpr(expr string) error {
	if expr == "" || strings.HasPrefix(expr, "/") || strings.HasSuffix(expr, "/") {
		return errBadKeyExpr
	}
	prevDouble := false
	for _, chunk := range strings.Split(expr, "/") {
		switch {
		case chunk == "":
			return errBadKeyExpr
		case chunk == "**":
			if prevDouble {
				return errBadKeyExpr
			}
			prevDouble = true
			continue
		case chunk == "*":
		case strings.ContainsAny(chunk, "*$?#"):
			return errBadKeyExpr
		}
		prevDouble = false
	}
	return nil
}

func chunksIntersect(a, b []string) bool {
	switch {
	case len(a) == 0 && len(b) == 0:
		return true
	case len(a) == 0:
		return onlyDoubleWild(b)
	case len(b) == 0:
		return onlyDoubleWild(a)
	case a[0] == "**":
		return chunksIntersect(a[1:], b) || chunksIntersect(a, b[1:])
	case b[0] == "**":
		return chunksIntersect(a, b[1:]) || chunksIntersect(a[1:], b)
	case a[0] == "*" || b[0] == "*" || a[0] == b[0]:
		return chunksIntersect(a[1:], b[1:])
	default:
		return false
	}
}

func onlyDoubleWild(chunks []string) bool {
	for _, c := range chunks {
		if c != "**" {
			return false
		}
	}
	return true
}

// matcher memoizes intersection results. Routing evaluates the same pairs
// for every put, so the cache absorbs most of the recursion.
type matcher struct {
	cache *lru.Cache[[2]string, bool]
}

func newMatcher(size int) *matcher {
	if size <= 0 {
		return &matcher{}
	}
	cache, err := lru.New[[2]string, bool](size)
	if err != nil {
		return &matcher{}
	}
	return &matcher{cache: cache}
}

func (m *matcher) intersects(a, b string) bool {
	if a == b {
		return true
	}
	if b < a {
		a, b = b, a
	}
	key := [2]string{a, b}
	if m.cache != nil {
		if v, ok := m.cache.Get(key); ok {
			return v
		}
	}
	v := chunksIntersect(strings.Split(a, "/"), strings.Split(b, "/"))
	if m.cache != nil {
		m.cache.Add(key, v)
	}
	return v
}
