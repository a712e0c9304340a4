package parser

import (
	"net/url"
	"path"
	"strings"
)

// IDSource selects how external ids are derived. Changing it orphans
// existing catalog rows, so it is a deploy-time setting.
type IDSource string

const (
	IDFromURL       IDSource = "url"
	IDFromAttribute IDSource = "attribute"
)

// IDFromDetailURL derives a stable id from a detail page URL: the decoded
// value of queryParam when present, otherwise the last path segment.
func IDFromDetailURL(rawURL, queryParam string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	if queryParam != "" {
		if v := u.Query().Get(queryParam); v != "" {
			return NormalizeID(v)
		}
	}

	segment := path.Base(strings.TrimSuffix(u.Path, "/"))
	if segment == "." || segment == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}
	segment = strings.TrimSuffix(segment, path.Ext(segment))

	return NormalizeID(segment)
}

// ResolveURL resolves ref against base; unresolvable refs are returned as is.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == "" {
		return ref
	}

	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
