package signer

import (
	"net/url"
	"sort"
	"strings"
)

// PercentEncode 按 RFC 3986 编码，"*" 保持 %2A，"~" 不编码，空格为 %20
func PercentEncode(s string) string {
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	encoded = strings.ReplaceAll(encoded, "*", "%2A")
	encoded = strings.ReplaceAll(encoded, "%7E", "~")
	return encoded
}

// CanonicalQuery 以编码后的键排序，值逐个编码
func CanonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	type kv struct{ k, v string }
	pairs := make([]kv, 0, len(query))
	for k, values := range query {
		ek := PercentEncode(k)
		for _, v := range values {
			pairs = append(pairs, kv{ek, PercentEncode(v)})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.k+"="+p.v)
	}
	return strings.Join(parts, "&")
}

// canonicalPath 逐段编码路径，保留 "/"
func canonicalPath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = PercentEncode(seg)
	}
	return strings.Join(segments, "/")
}
