// Package detector recognizes buyer-platform pages whose content only appears
// after JavaScript runs, so an empty link harvest can be told apart from a
// page that genuinely lists no documents.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBodyLengthThreshold is the size below which a script-heavy page is
// presumed to be an application shell.
const DefaultBodyLengthThreshold = 4096

// Heuristic implements a handful of rule-based checks.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte("ng-version"),
	[]byte("ng-app"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

var noscriptHints = []string{
	"javascript",
	"activer",
	"enable",
}

// ScriptRendered reports whether body looks like a client-rendered shell.
func (h *Heuristic) ScriptRendered(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if noscriptAsksForJS(doc) {
		return true
	}
	return len(body) < h.BodyLengthThreshold && scriptDensityHigh(doc, len(body))
}

func noscriptAsksForJS(doc *goquery.Document) bool {
	found := false
	doc.Find("noscript").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(sel.Text())
		for _, hint := range noscriptHints {
			if strings.Contains(text, hint) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// scriptDensityHigh reports whether inline scripts make up at least a quarter
// of the page, or the page has scripts and no visible text.
func scriptDensityHigh(doc *goquery.Document, total int) bool {
	scripts := doc.Find("script")
	if scripts.Length() == 0 || total == 0 {
		return false
	}
	coverage := 0
	scripts.Each(func(_ int, sel *goquery.Selection) {
		coverage += len(sel.Text()) + len("<script></script>")
	})
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	if strings.TrimSpace(body.Text()) == "" {
		return true
	}
	return coverage*100/total >= 25
}
