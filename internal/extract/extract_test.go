package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const consultationPage = `<!doctype html>
<html><head><title>Consultation 2024-118</title></head>
<body>
  <nav>
    <a href="/aide/faq">Aide</a>
    <a href="/mentions-legales">Mentions légales</a>
    <a href="/modele-dc1.pdf">Modèle DC1</a>
  </nav>
  <a href="#top">Haut de page</a>
  <a href="javascript:void(0)">Ouvrir</a>
  <a href="mailto:acheteur@example.fr">Contact</a>
  <a href="files/RC.pdf">Règlement de consultation</a>
  <a href="https://cdn.example.fr/files/RC.pdf#page=2">RC (copie)</a>
  <a href="/entreprise/consultation/118?action=telecharger">Télécharger le DCE</a>
  <a href="/consultation/118/annonce">Annonce</a>
  <a href="files/RC.pdf">Doublon</a>
</body></html>`

func TestLinksFiltersAndDeduplicates(t *testing.T) {
	t.Parallel()

	links, err := Links("https://marches.example.fr/consultation/118/", []byte(consultationPage))
	require.NoError(t, err)

	urls := make([]string, 0, len(links))
	for _, l := range links {
		urls = append(urls, l.URL)
	}
	require.Equal(t, []string{
		"https://marches.example.fr/consultation/118/files/RC.pdf",
		"https://cdn.example.fr/files/RC.pdf",
		"https://marches.example.fr/entreprise/consultation/118?action=telecharger",
	}, urls)
	require.Equal(t, "Règlement de consultation", links[0].Text)
}

func TestLinksHonorsBaseHref(t *testing.T) {
	t.Parallel()

	page := `<html><head><base href="https://docs.example.fr/dce/"></head>
<body><a href="lot1.zip">Lot 1</a></body></html>`
	links, err := Links("https://marches.example.fr/avis", []byte(page))
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "https://docs.example.fr/dce/lot1.zip", links[0].URL)
}

func TestLinksEmptyPage(t *testing.T) {
	t.Parallel()

	links, err := Links("https://marches.example.fr/", []byte("<html><body><p>Rien</p></body></html>"))
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestIsCandidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url, text string
		want      bool
	}{
		{"https://a.fr/x/cahier.docx", "", true},
		{"https://a.fr/download?id=4", "", true},
		{"https://a.fr/consultation/4", "Pièces jointes", true},
		{"https://a.fr/consultation/4", "Annonce", false},
		{"https://a.fr/cgu.pdf", "", false},
		{"https://a.fr/politique-cookies", "Documents", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsCandidate(tc.url, tc.text), tc.url)
	}
}

func TestRankPrefersPDFsAndKeepsOrderForTies(t *testing.T) {
	t.Parallel()

	ranked := Rank([]Link{
		{URL: "https://a.fr/page", Text: "Accueil"},
		{URL: "https://a.fr/b.zip", Text: "Archive"},
		{URL: "https://a.fr/one.pdf", Text: "Un"},
		{URL: "https://a.fr/two.pdf", Text: "Deux"},
		{URL: "https://a.fr/faq.pdf", Text: "FAQ"},
	}, 0)
	require.Equal(t, []Link{
		{URL: "https://a.fr/one.pdf", Text: "Un"},
		{URL: "https://a.fr/two.pdf", Text: "Deux"},
		{URL: "https://a.fr/b.zip", Text: "Archive"},
	}, ranked)

	require.Len(t, Rank(ranked, 2), 2)
}
