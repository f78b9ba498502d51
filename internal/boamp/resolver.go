// Package boamp maps BOAMP public-notice pages, which rarely host the
// documents themselves, to the buyer-platform URL recorded in the open-data
// notice record.
package boamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/urlguard"
)

// Record is an open-data notice record. Its shape varies between notices:
// the buyer URL is sometimes a top-level field and sometimes buried in a
// serialized blob.
type Record map[string]any

// ErrNoticeNotFound is returned by lookups when the notice is unknown.
var ErrNoticeNotFound = errors.New("notice not found in open data")

// Lookup fetches the open-data record of a notice.
type Lookup interface {
	Lookup(ctx context.Context, id string) (Record, error)
}

var (
	noticeHost = regexp.MustCompile(`(?i)^(www\.)?boamp\.fr$`)
	idInURL    = regexp.MustCompile(`(?i)(?:/avis/detail/|idweb[=:/]\s*"?)(\d{2}-\d+)`)
)

// Fields known to hold the buyer-platform URL, most reliable first.
var structuredFields = []string{
	"url_profil_acheteur",
	"urlprofilacheteur",
	"url_profil",
	"adresse_profil_acheteur",
	"profil_acheteur",
	"url_acces_dce",
	"url_dce",
	"url_document",
}

// blobFields are string fields that themselves contain serialized JSON.
var blobFields = []string{"donnees", "gestion", "data"}

// Validator decides whether a URL may be requested.
type Validator interface {
	Check(raw string) error
}

// Resolver implements acquisition.Resolver for BOAMP notices.
type Resolver struct {
	lookup Lookup
	guard  Validator
	logger *zap.Logger
}

// New builds a Resolver. A nil guard uses urlguard.NewGuard.
func New(lookup Lookup, guard Validator, logger *zap.Logger) *Resolver {
	if guard == nil {
		guard = urlguard.NewGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lookup: lookup, guard: guard, logger: logger.Named("boamp")}
}

func (r *Resolver) allowed(raw string) bool {
	return r.guard.Check(raw) == nil
}

// Applies reports whether sourceURL is a BOAMP notice page.
func (r *Resolver) Applies(sourceURL string) bool {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return false
	}
	return noticeHost.MatchString(u.Hostname())
}

// ExtractID pulls the notice identifier (e.g. "24-123456") out of a BOAMP
// URL, falling back to noticeID.
func ExtractID(sourceURL, noticeID string) string {
	decoded, err := url.QueryUnescape(sourceURL)
	if err != nil {
		decoded = sourceURL
	}
	if m := idInURL.FindStringSubmatch(decoded); m != nil {
		return m[1]
	}
	return strings.TrimSpace(noticeID)
}

// Resolve looks the notice up and returns the buyer-platform URL, or an empty
// Resolution when the record holds nothing usable.
func (r *Resolver) Resolve(ctx context.Context, noticeID, sourceURL string) (acquisition.Resolution, error) {
	id := ExtractID(sourceURL, noticeID)
	if id == "" {
		return acquisition.Resolution{}, errors.New("no notice id in url or request")
	}
	record, err := r.lookup.Lookup(ctx, id)
	if err != nil {
		return acquisition.Resolution{}, fmt.Errorf("lookup notice %s: %w", id, err)
	}

	if u, field := structuredURL(record, r.allowed); u != "" {
		r.logger.Debug("buyer url from structured field", zap.String("id", id), zap.String("field", field))
		return acquisition.Resolution{URL: u, Source: "field:" + field, Detail: field}, nil
	}

	// Only the top candidate counts. When it is disallowed the caller keeps
	// the original URL.
	candidates := RankCandidates(ScanURLs(record))
	if len(candidates) > 0 && candidates[0].Score > 0 {
		top := candidates[0]
		if !r.allowed(top.URL) {
			r.logger.Warn("top scored candidate is disallowed",
				zap.String("id", id),
				zap.String("url", top.URL),
			)
		}
		return acquisition.Resolution{
			URL:    top.URL,
			Source: "scored_blob",
			Detail: fmt.Sprintf("scored %d among %d urls", top.Score, len(candidates)),
		}, nil
	}
	return acquisition.Resolution{
		Detail: fmt.Sprintf("no buyer platform url among %d urls in record %s", len(candidates), id),
	}, nil
}

// StructuredURL returns the first usable URL held by a known field of record
// or of its serialized blobs, with the field name.
func StructuredURL(record Record) (string, string) {
	return structuredURL(record, urlguard.IsAllowed)
}

func structuredURL(record Record, allowed func(string) bool) (string, string) {
	for _, field := range structuredFields {
		if u := asURL(record[field], allowed); u != "" {
			return u, field
		}
	}
	for _, blob := range blobFields {
		nested, ok := decodeBlob(record[blob])
		if !ok {
			continue
		}
		if u, field := findField(nested, allowed); u != "" {
			return u, field
		}
	}
	return "", ""
}

func findField(v any, allowed func(string) bool) (string, string) {
	switch node := v.(type) {
	case map[string]any:
		for _, field := range structuredFields {
			for key, value := range node {
				if strings.EqualFold(key, field) {
					if u := asURL(value, allowed); u != "" {
						return u, field
					}
				}
			}
		}
		for _, child := range node {
			if u, field := findField(child, allowed); u != "" {
				return u, field
			}
		}
	case []any:
		for _, child := range node {
			if u, field := findField(child, allowed); u != "" {
				return u, field
			}
		}
	}
	return "", ""
}

func decodeBlob(v any) (any, bool) {
	switch blob := v.(type) {
	case string:
		var out any
		if err := json.Unmarshal([]byte(blob), &out); err != nil {
			return nil, false
		}
		return out, true
	case map[string]any, []any:
		return blob, true
	}
	return nil, false
}

// asURL accepts allowed absolute http(s) URLs and scheme-less "www." hosts.
func asURL(v any, allowed func(string) bool) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	case strings.HasPrefix(lower, "www."):
		s = "https://" + s
	default:
		return ""
	}
	if !allowed(s) {
		return ""
	}
	return s
}
