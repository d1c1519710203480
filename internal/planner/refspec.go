package planner

import (
	"context"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// maxRefSpecChars bounds how much reduced reference-spec text gets folded
// into the planner's prompt per URL (spec §4.H).
const maxRefSpecChars = 15000

var (
	blockTagPattern   = regexp.MustCompile(`(?i)</?(p|div|br|li|h[1-6]|tr|section|article)[^>]*>`)
	anyTagPattern     = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
)

// namedBlockPatterns strips script/style/nav/footer blocks (and their
// contents) entirely before any other reduction runs, since RE2 has no
// backreferences to match open/close tag pairs generically.
var namedBlockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
	regexp.MustCompile(`(?is)<nav[^>]*>.*?</nav>`),
	regexp.MustCompile(`(?is)<footer[^>]*>.*?</footer>`),
}

// ReduceHTML converts raw HTML into plain text suitable for a prompt: drops
// script/style/nav/footer blocks entirely, turns block-level tags into
// newlines, strips remaining tags, decodes entities, and collapses
// whitespace (spec §4.H's reference-spec ingestion).
func ReduceHTML(raw string) string {
	text := raw
	for _, p := range namedBlockPatterns {
		text = p.ReplaceAllString(text, "\n")
	}
	text = blockTagPattern.ReplaceAllString(text, "\n")
	text = anyTagPattern.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if len(text) > maxRefSpecChars {
		text = text[:maxRefSpecChars]
	}
	return text
}

// RefSpecCache fetches and caches reduced reference-spec text per URL so a
// planner evaluation never re-fetches within a single run.
type RefSpecCache struct {
	mu     sync.Mutex
	client *http.Client
	cache  map[string]string
}

func NewRefSpecCache(timeout time.Duration) *RefSpecCache {
	return &RefSpecCache{
		client: &http.Client{Timeout: timeout},
		cache:  make(map[string]string),
	}
}

// Fetch returns the reduced text for url, fetching and caching it on first
// use. Fetch errors yield an empty string rather than failing the caller;
// the planner treats missing reference content as "none configured" for
// that URL rather than aborting the evaluation.
func (c *RefSpecCache) Fetch(ctx context.Context, url string) string {
	c.mu.Lock()
	if cached, ok := c.cache[url]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return ""
	}

	reduced := ReduceHTML(string(body))
	c.mu.Lock()
	c.cache[url] = reduced
	c.mu.Unlock()
	return reduced
}

// FetchAll resolves every URL to its reduced text, skipping ones that
// fail or fetch empty.
func (c *RefSpecCache) FetchAll(ctx context.Context, urls []string) []string {
	var out []string
	for _, u := range urls {
		if text := c.Fetch(ctx, u); text != "" {
			out = append(out, text)
		}
	}
	return out
}
