// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

// Package debug masks credentials in diagnostic output and records HTTP
// exchanges to a trace file.
package debug

import (
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const masked = "***"

// sensitiveFragments mark a key as sensitive wherever they appear.
var sensitiveFragments = []string{
	"password", "passwd", "secret", "token", "apikey",
	"authorization", "credential", "csrf", "cookie", "sessionid",
}

// sensitiveWords mark a key as sensitive only as a whole word, so that
// "auth" matches "auth_token" but not "Author".
var sensitiveWords = map[string]bool{
	"auth":    true,
	"pwd":     true,
	"session": true,
	"sid":     true,
}

// IsSensitiveKey reports whether a header, query parameter or cookie
// name is likely to carry a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	compact := strings.NewReplacer("-", "", "_", "", ".", "").Replace(lower)
	for _, f := range sensitiveFragments {
		if strings.Contains(compact, f) {
			return true
		}
	}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	}) {
		if sensitiveWords[w] {
			return true
		}
	}
	return false
}

// MaskToken keeps the last 8 characters of a token; shorter tokens are
// hidden entirely.
func MaskToken(token string) string {
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return "****"
	}
	return "****" + token[len(token)-8:]
}

// MaskURL hides the userinfo password and the values of sensitive query
// parameters. Other parameters keep their original encoding and order.
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxx")
		}
	}
	if u.RawQuery != "" {
		pairs := strings.Split(u.RawQuery, "&")
		for i, pair := range pairs {
			name, _, hasValue := strings.Cut(pair, "=")
			if decoded, err := url.QueryUnescape(name); err == nil {
				name = decoded
			}
			if hasValue && IsSensitiveKey(name) {
				pairs[i] = pair[:strings.IndexByte(pair, '=')+1] + masked
			}
		}
		u.RawQuery = strings.Join(pairs, "&")
	}
	return u.String()
}

// MaskHeader masks a sensitive header value. Authorization keeps its
// scheme; cookies keep their names.
func MaskHeader(name, value string) string {
	if value == "" {
		return ""
	}
	switch strings.ToLower(name) {
	case "authorization", "proxy-authorization":
		if scheme, credential, ok := strings.Cut(value, " "); ok {
			return scheme + " " + MaskToken(credential)
		}
		return MaskToken(value)
	case "cookie", "set-cookie":
		return maskCookies(value)
	}
	if IsSensitiveKey(name) {
		return MaskToken(value)
	}
	return value
}

func maskCookies(value string) string {
	parts := strings.Split(value, ";")
	for i, part := range parts {
		name, _, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "path", "domain", "expires", "max-age", "samesite":
			continue
		}
		lead := part[:len(part)-len(strings.TrimLeft(part, " "))]
		parts[i] = lead + name + "=" + masked
	}
	return strings.Join(parts, ";")
}

// Headers logs an http.Header with sensitive values masked and names in
// a stable order.
type Headers http.Header

func (h Headers) LogValue() slog.Value {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make([]slog.Attr, 0, len(names))
	for _, name := range names {
		values := make([]string, len(h[name]))
		for i, v := range h[name] {
			values[i] = MaskHeader(name, v)
		}
		attrs = append(attrs, slog.String(name, strings.Join(values, ", ")))
	}
	return slog.GroupValue(attrs...)
}

// URL logs a URL through MaskURL.
type URL string

func (u URL) LogValue() slog.Value {
	return slog.StringValue(MaskURL(string(u)))
}
