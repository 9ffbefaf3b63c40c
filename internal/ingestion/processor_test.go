package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<html>
<head><title>2026 Email Benchmarks</title><script>track()</script></head>
<body>
<nav>Home | Reports</nav>
<h1>Email Benchmarks</h1>
<p>Average open rates reached 21.5% across retail.</p>
<footer>Copyright</footer>
</body>
</html>`

func TestCleanHTMLStripsChrome(t *testing.T) {
	text := cleanHTML(articleHTML)

	assert.Contains(t, text, "Average open rates reached 21.5% across retail.")
	assert.NotContains(t, text, "track()")
	assert.NotContains(t, text, "Home | Reports")
	assert.NotContains(t, text, "Copyright")
}

func TestCleanHTMLCollapsesWhitespace(t *testing.T) {
	text := cleanHTML("<body><p>one</p>\n\n  <p>two</p></body>")
	assert.Equal(t, "one two", text)
}

func TestExtractTitlePrefersTitleTag(t *testing.T) {
	assert.Equal(t, "2026 Email Benchmarks", extractTitle(articleHTML))
}

func TestExtractTitleFallsBackToH1(t *testing.T) {
	assert.Equal(t, "Heading", extractTitle("<body><h1>Heading</h1></body>"))
	assert.Equal(t, "Untitled", extractTitle("<body><p>no heading</p></body>"))
}

func TestSummaryOfCutsOnWordBoundary(t *testing.T) {
	long := strings.Repeat("benchmark ", 100)
	summary := summaryOf(long)

	assert.LessOrEqual(t, len(summary), 500)
	assert.False(t, strings.HasSuffix(summary, " "), "cut must land on a word, not trailing space")
	assert.True(t, strings.HasSuffix(summary, "benchmark"))

	short := "short article body"
	assert.Equal(t, short, summaryOf(short))
}

func TestChunkTextBoundsAndOverlap(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	words := make([]string, 600)
	for i := range words {
		words[i] = "word"
	}
	chunks := p.chunkText(strings.Join(words, " "))

	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), p.chunkSize+p.chunkOverlap, "chunk %d", i)
		assert.NotEmpty(t, chunk)
	}

	// Consecutive chunks share trailing/leading words.
	tail := strings.Fields(chunks[0])
	head := strings.Fields(chunks[1])
	assert.Equal(t, tail[len(tail)-1], head[0])
}

func TestChunkTextEmptyInput(t *testing.T) {
	p := NewProcessor(nil, nil, nil)
	assert.Nil(t, p.chunkText("   "))
}
