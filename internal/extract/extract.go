// Package extract harvests document-like links from HTML pages of buyer
// platforms.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is a candidate document link found on a page.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

var documentExtensions = map[string]struct{}{
	".pdf":  {},
	".zip":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".odt":  {},
	".ods":  {},
	".rar":  {},
	".7z":   {},
}

var downloadKeywords = []string{
	"download",
	"telecharg",
	"document",
	"piece",
	"fichier",
	"attachment",
	"dce",
}

// Help, legal and template pages that match the keywords but never hold a DCE.
var noisePatterns = []string{
	"mentions-legales",
	"mentions_legales",
	"cgu",
	"conditions-generales",
	"/aide",
	"/help",
	"faq",
	"cookie",
	"privacy",
	"confidentialite",
	"accessibilite",
	"plan-du-site",
	"template",
	"modele",
	"guide-utilisateur",
	"manuel",
	"charte",
	"rgpd",
}

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

var accentFolder = strings.NewReplacer(
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"à", "a", "â", "a", "ä", "a",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c",
)

func fold(s string) string {
	return accentFolder.Replace(strings.ToLower(s))
}

// Links returns the de-duplicated document candidates of body in discovery
// order. Relative hrefs are resolved against the page's <base> or pageURL.
func Links(pageURL string, body []byte) ([]Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	seen := make(map[string]struct{})
	var links []Link
	doc.Find("a[href], area[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			text, _ = sel.Attr("title")
		}
		abs, ok := resolve(base, href)
		if !ok {
			return
		}
		if !IsCandidate(abs, text) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, Link{URL: abs, Text: text})
	})
	return links, nil
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// IsCandidate reports whether a link looks like a tender document and is not noise.
func IsCandidate(rawURL, text string) bool {
	if IsNoise(rawURL) {
		return false
	}
	if HasDocumentExtension(rawURL) {
		return true
	}
	haystack := fold(rawURL + " " + text)
	for _, kw := range downloadKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// IsNoise reports whether rawURL matches the help/legal/template denylist.
func IsNoise(rawURL string) bool {
	lower := fold(rawURL)
	for _, pattern := range noisePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// HasDocumentExtension reports whether the URL path ends in a document extension.
func HasDocumentExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := documentExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

// Score orders links for download: PDFs first, then other documents, then
// keyword-only matches. Noise scores -1.
func Score(rawURL, text string) int {
	if IsNoise(rawURL) {
		return -1
	}
	score := 0
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); {
		case ext == ".pdf":
			score += 4
		case ext == ".zip":
			score += 3
		default:
			if _, ok := documentExtensions[ext]; ok {
				score += 2
			}
		}
	}
	haystack := fold(text + " " + rawURL)
	if strings.Contains(haystack, "dce") || strings.Contains(haystack, "dossier de consultation") {
		score += 2
	}
	for _, kw := range downloadKeywords {
		if strings.Contains(haystack, kw) {
			score++
			break
		}
	}
	return score
}

// Rank returns the positively scored links ordered by descending score,
// keeping discovery order for ties, truncated to limit when limit > 0.
func Rank(links []Link, limit int) []Link {
	type scored struct {
		link  Link
		score int
	}
	ranked := make([]scored, 0, len(links))
	for _, l := range links {
		if s := Score(l.URL, l.Text); s > 0 {
			ranked = append(ranked, scored{link: l, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]Link, len(ranked))
	for i, r := range ranked {
		out[i] = r.link
	}
	return out
}
