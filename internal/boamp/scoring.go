package boamp

import (
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Scoring weights.
const (
	keywordWeight  = 3
	platformWeight = 2
	noiseScore     = -1
)

var embeddedURL = regexp.MustCompile(`https?://[^\s"'<>\\]+`)

var blobUnescaper = strings.NewReplacer(`\\/`, `/`, `\/`, `/`, `\\u0026`, `&`, `\u0026`, `&`, `&amp;`, `&`)

// Path or query fragments of consultation / document-detail pages.
var consultationKeywords = []string{
	"consultation",
	"consult",
	"dce",
	"detail",
	"entreprise",
	"procedure",
	"tender",
	"avis",
	"marche",
	"refconsult",
	"annonce",
}

// Known buyer-platform domains.
var platformDomains = []string{
	"marches-publics.gouv.fr",
	"achatpublic.com",
	"marches-securises.fr",
	"e-marchespublics.com",
	"klekoon.com",
	"megalis.bretagne.bzh",
	"maximilien.fr",
	"ternum-bfc.fr",
	"aws-france.com",
	"centraledesmarches.com",
	"marchespublics.grandest.fr",
	"synapse-entreprises.com",
	"francemarches.com",
	"demat-ampa.fr",
	"achat-public.com",
	"marches-publics.info",
	"atexo.com",
	"local-trust.com",
	"marchespublics.auvergnerhonealpes.eu",
	"alsacemarchespublics.eu",
	"marchespublics596280.fr",
	"eu-supply.com",
	"omnikles.com",
	"dematis.com",
}

// Legal, administrative and reference sites that appear in notice records
// but never host a DCE.
var noiseDomains = []string{
	"boamp.fr",
	"legifrance.gouv.fr",
	"journal-officiel.gouv.fr",
	"service-public.fr",
	"economie.gouv.fr",
	"ted.europa.eu",
	"europa.eu",
	"simap.ted.europa.eu",
	"data.gouv.fr",
	"insee.fr",
	"cnil.fr",
	"conseil-etat.fr",
	"w3.org",
	"schema.org",
	"opendatasoft.com",
	"google.com",
	"facebook.com",
	"twitter.com",
	"linkedin.com",
	"youtube.com",
	"tribunal-administratif",
}

// Candidate is a scored URL found in a record.
type Candidate struct {
	URL   string
	Score int
}

// ScanURLs returns every absolute URL embedded anywhere in record, in first
// seen order.
func ScanURLs(record Record) []string {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	text := unescapeBlob(string(raw))
	seen := make(map[string]struct{})
	var out []string
	for _, m := range embeddedURL.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;)]}")
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// unescapeBlob undoes the JSON escaping of URLs, which stacks once per level
// of serialization.
func unescapeBlob(s string) string {
	for i := 0; i < 3; i++ {
		next := blobUnescaper.Replace(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// ScoreURL rates how likely rawURL is to be the buyer-platform consultation
// page: keywordWeight for a consultation keyword in the path or query,
// platformWeight for a known platform domain, and noiseScore for a noise
// domain or an unparseable URL.
func ScoreURL(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return noiseScore
	}
	host := strings.ToLower(u.Hostname())
	if matchesDomain(host, noiseDomains) {
		return noiseScore
	}
	score := 0
	pathQuery := strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
	for _, kw := range consultationKeywords {
		if strings.Contains(pathQuery, kw) {
			score += keywordWeight
			break
		}
	}
	if matchesDomain(host, platformDomains) {
		score += platformWeight
	}
	return score
}

func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) || (!strings.Contains(d, ".") && strings.Contains(host, d)) {
			return true
		}
	}
	return false
}

// RankCandidates scores urls and orders them by descending score, keeping
// input order for ties. Noise is dropped.
func RankCandidates(urls []string) []Candidate {
	out := make([]Candidate, 0, len(urls))
	for _, u := range urls {
		s := ScoreURL(u)
		if s == noiseScore {
			continue
		}
		out = append(out, Candidate{URL: u, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
