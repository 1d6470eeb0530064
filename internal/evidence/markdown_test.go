package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html><head>
<title> Solid-state   batteries </title>
<meta name="description" content="An overview of solid electrolytes.">
<script>var tracking = 1;</script>
</head>
<body>
<header><a href="/">Home</a></header>
<nav><ul><li>Menu</li></ul></nav>
<main>
<h1>Solid-state batteries</h1>
<p>They use a <strong>solid</strong> electrolyte instead of a <em>liquid</em> one.
See <a href="https://example.com/ref">the reference</a> and <a href="/local">this</a>.</p>
<ul><li>Safer</li><li>Denser<ul><li>up to 2x</li></ul></li></ul>
<pre><code>cell := New()
cell.Charge()</code></pre>
<style>.x{}</style>
</main>
<footer>Copyright</footer>
</body></html>`

func TestParsePage(t *testing.T) {
	p, err := ParsePage(articleHTML)
	require.NoError(t, err)

	assert.Equal(t, "Solid-state batteries", p.Title)
	assert.Equal(t, "An overview of solid electrolytes.", p.Description)

	md := p.Markdown
	assert.Contains(t, md, "# Solid-state batteries")
	assert.Contains(t, md, "They use a **solid** electrolyte instead of a _liquid_ one.")
	assert.Contains(t, md, "[the reference](https://example.com/ref)")
	assert.Contains(t, md, "and this.")
	assert.Contains(t, md, "- Safer")
	assert.Contains(t, md, "  - up to 2x")
	assert.Contains(t, md, "```\ncell := New()\ncell.Charge()\n```")

	for _, gone := range []string{"tracking", "Home", "Menu", "Copyright", ".x{}"} {
		assert.NotContains(t, md, gone)
	}
	assert.NotContains(t, md, "\n\n\n")
}

func TestParsePageWithoutBody(t *testing.T) {
	p, err := ParsePage("plain <b>text</b>")
	require.NoError(t, err)
	assert.Equal(t, "plain **text**", p.Markdown)
	assert.Empty(t, p.Title)
}

func TestParseResultLinksScriptedPage(t *testing.T) {
	raw := `<ol>
<li data-layout="ad"><a data-testid="result-title-a" href="https://ads.example">Ad</a></li>
<li data-layout="organic"><article><h2><a data-testid="result-title-a" href="https://a.example/1">A</a></h2></article></li>
<li data-layout="organic"><a data-testid="result-title-a" href="javascript:void(0)">bad</a></li>
<li data-layout="organic"><a data-testid="result-title-a" href="https://b.example/2">B</a></li>
<li data-layout="organic"><a data-testid="result-title-a" href="https://a.example/1">dup</a></li>
<li data-layout="organic"><a data-testid="result-title-a" href="https://c.example/3">C</a></li>
</ol>`

	urls, err := ParseResultLinks(raw, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/1", "https://b.example/2"}, urls)

	all, err := ParseResultLinks(raw, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestParseResultLinksLitePage(t *testing.T) {
	raw := `<table>
<tr><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fx.example%2Fpage&rut=abc" class='result-link'>X</a></td></tr>
<tr><td class="result-snippet">snippet</td></tr>
<tr><td><a href="https://y.example/" class="result-link">Y</a></td></tr>
<tr><td><a href="/settings">Settings</a></td></tr>
</table>`

	urls, err := ParseResultLinks(raw, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.example/page", "https://y.example/"}, urls)
}
