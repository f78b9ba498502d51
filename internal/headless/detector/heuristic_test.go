package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScriptRenderedEmptyBody(t *testing.T) {
	t.Parallel()

	require.True(t, NewHeuristic(0).ScriptRendered([]byte("  \n")))
}

func TestScriptRenderedSPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ScriptRendered([]byte(`<div id="__next"></div>`)))
	require.True(t, h.ScriptRendered([]byte(`<app-root NG-VERSION="17.0.1"></app-root>`)))
}

func TestScriptRenderedNoscriptHint(t *testing.T) {
	t.Parallel()

	page := `<html><body><noscript>Veuillez activer JavaScript pour consulter le DCE.</noscript>` +
		strings.Repeat("<p>texte</p>", 1000) + `</body></html>`
	require.True(t, NewHeuristic(100).ScriptRendered([]byte(page)))
}

func TestScriptRenderedScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	require.True(t, h.ScriptRendered([]byte(`<html><body><script>window.boot({a:1,b:2,c:3});</script><p>t</p></body></html>`)))
	require.True(t, h.ScriptRendered([]byte(`<html><body><script src="/app.js"></script></body></html>`)))
}

func TestScriptRenderedStaticPage(t *testing.T) {
	t.Parallel()

	page := `<html><body><h1>Consultation 42</h1><p>` + strings.Repeat("Objet du marché. ", 40) +
		`</p><a href="/rc.pdf">RC</a></body></html>`
	require.False(t, NewHeuristic(0).ScriptRendered([]byte(page)))
}
