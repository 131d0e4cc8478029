package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVisibleTextSkipsNonContent(t *testing.T) {
	markup := `<html><head><title>t</title><style>p{color:red}</style></head>
<body>
  <script>alert(1)</script>
  <noscript>enable js</noscript>
  <template><p>templated</p></template>
  <p>visible one</p>
  <p hidden>hidden attr</p>
  <p style="display: none">inline hidden</p>
  <p style="visibility:hidden">inline invisible</p>
  <p>visible two</p>
</body></html>`

	text, err := extractVisibleText(markup, false)
	require.NoError(t, err)
	assert.Equal(t, "visible one\nvisible two", text)
}

func TestExtractVisibleTextDedupes(t *testing.T) {
	markup := `<body><div>Sign in</div><p>Welcome</p><footer>Sign in</footer></body>`

	text, err := extractVisibleText(markup, true)
	require.NoError(t, err)
	assert.Equal(t, "Sign in\nWelcome", text)

	// Without dedupe every occurrence survives in order.
	text, err = extractVisibleText(markup, false)
	require.NoError(t, err)
	assert.Equal(t, "Sign in\nWelcome\nSign in", text)
}

func TestExtractVisibleTextNormalizesWhitespace(t *testing.T) {
	markup := "<p>  spaced \n\t out   words  </p>"
	text, err := extractVisibleText(markup, false)
	require.NoError(t, err)
	assert.Equal(t, "spaced out words", text)
}

func TestExtractMainContentPrefersArticle(t *testing.T) {
	markup := `<html><body>
<nav><a href="/">Home</a><a href="/docs">Docs</a><a href="/blog">Blog</a></nav>
<article><h1>How sessions expire</h1><p>Sessions are destroyed once their idle
time exceeds the configured limit, which keeps browser memory bounded even when
callers forget to clean up after themselves.</p></article>
<aside>Related links everywhere</aside>
<footer>Copyright</footer>
</body></html>`

	text, err := extractMainContent(markup)
	require.NoError(t, err)
	assert.Contains(t, text, "How sessions expire")
	assert.Contains(t, text, "keeps browser memory bounded")
	assert.NotContains(t, text, "Home")
	assert.NotContains(t, text, "Related links")
	assert.NotContains(t, text, "Copyright")
}

func TestExtractMainContentDiscountsLinkHeavyBlocks(t *testing.T) {
	markup := `<body>
<div id="menu"><a href="/a">Alpha section</a> <a href="/b">Beta section</a>
<a href="/c">Gamma section</a> <a href="/d">Delta section</a></div>
<div id="story">A much longer run of plain prose that is not wrapped in anchors
and therefore scores as genuine content rather than navigation chrome.</div>
</body>`

	text, err := extractMainContent(markup)
	require.NoError(t, err)
	assert.Contains(t, text, "genuine content")
	assert.NotContains(t, text, "Alpha section")
}

func TestExtractMainContentNoCandidates(t *testing.T) {
	text, err := extractMainContent("<span>just inline text</span>")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "", collapseWhitespace("   \n\t "))
	assert.Equal(t, "a b c", collapseWhitespace(" a\n b\t\tc "))
}

func TestIsDocumentSelector(t *testing.T) {
	for _, sel := range []string{"html", "body", ":root", "document", "*", " BODY "} {
		assert.True(t, isDocumentSelector(sel), sel)
	}
	for _, sel := range []string{"#main", "div.body", "article"} {
		assert.False(t, isDocumentSelector(sel), sel)
	}
}
