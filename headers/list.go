package headers

import (
	"net/http"
	"slices"
	"strings"
)

// FromHTTP flattens h into an ordered list. Keys are visited in sorted order and
// each key's values keep their original order. Keys listed in skip are dropped,
// compared case-insensitively.
func FromHTTP(h http.Header, skip ...string) []Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		if containsFold(skip, k) {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]Header, 0, len(keys))
	for _, k := range keys {
		name := http.CanonicalHeaderKey(k)
		for _, v := range h[k] {
			out = append(out, Header{Key: name, Value: v})
		}
	}
	return out
}

// ToHTTP builds an http.Header, adding duplicates in list order.
func ToHTTP(hs []Header) http.Header {
	h := make(http.Header, len(hs))
	for _, hdr := range hs {
		h.Add(hdr.Key, hdr.Value)
	}
	return h
}

// Contains reports whether any header has the given key (case-insensitive).
func Contains(hs []Header, key string) bool {
	return slices.ContainsFunc(hs, func(h Header) bool {
		return strings.EqualFold(h.Key, key)
	})
}

// Values returns every value stored under key, in list order.
func Values(hs []Header, key string) []string {
	var vals []string
	for _, h := range hs {
		if strings.EqualFold(h.Key, key) {
			vals = append(vals, h.Value)
		}
	}
	return vals
}

// Without returns a copy of hs with every header named key removed.
func Without(hs []Header, key string) []Header {
	out := make([]Header, 0, len(hs))
	for _, h := range hs {
		if !strings.EqualFold(h.Key, key) {
			out = append(out, h)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
