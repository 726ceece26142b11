// Package search provides a small, deterministic, concurrency-safe in-memory
// knowledge index built from Markdown paragraphs. It backs the retrieval
// fallback replier when no generation backend is configured.
//
// Scoring uses Jaccard similarity between the query token set and each
// paragraph's token set: score = |Q ∩ P| / |Q ∪ P|. The index is immutable
// after construction, so concurrent lookups need no locking.
package search

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Snippet is a ranked paragraph with its similarity score.
type Snippet struct {
	Text  string
	Score float64
}

// Index answers TopK lookups over a fixed corpus.
type Index interface {
	TopK(query string, k int) []Snippet
}

// Option adjusts corpus construction.
type Option func(*settings)

type settings struct {
	minParagraphRunes int
	stopwords         map[string]struct{}
	maxParagraphs     int
}

func defaultSettings() settings {
	return settings{minParagraphRunes: 40}
}

// WithMinParagraphRunes drops paragraphs shorter than n runes. Zero keeps
// everything.
func WithMinParagraphRunes(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.minParagraphRunes = n
		}
	}
}

// WithStopwords removes the given words from both corpus and query tokens.
func WithStopwords(words []string) Option {
	return func(s *settings) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			s.stopwords = m
		}
	}
}

// WithMaxParagraphs caps the corpus size.
func WithMaxParagraphs(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxParagraphs = n
		}
	}
}

type paragraph struct {
	text   string
	tokens map[string]struct{}
}

type corpus struct {
	cfg   settings
	paras []paragraph
}

// LoadMarkdown builds an Index from the Markdown file at path. Table rows are
// flattened into standalone facts before indexing so tabular knowledge is
// still matchable by plain-text queries.
func LoadMarkdown(path string, opts ...Option) (Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromReader(bytes.NewReader(flattenTables(raw)), opts...)
}

// FromReader builds an Index from UTF-8 text, split into paragraphs on blank
// lines. The reader is fully consumed.
func FromReader(r io.Reader, opts ...Option) (Index, error) {
	cfg := defaultSettings()
	for _, o := range opts {
		o(&cfg)
	}
	all, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return build(splitParagraphs(all), cfg), nil
}

// FromParagraphs builds an Index directly from pre-split paragraphs.
func FromParagraphs(paras []string, opts ...Option) Index {
	cfg := defaultSettings()
	for _, o := range opts {
		o(&cfg)
	}
	return build(paras, cfg)
}

func build(paras []string, cfg settings) *corpus {
	c := &corpus{cfg: cfg}
	for _, raw := range paras {
		t := strings.Join(strings.Fields(raw), " ")
		if t == "" {
			continue
		}
		if cfg.minParagraphRunes > 0 && utf8.RuneCountInString(t) < cfg.minParagraphRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		c.paras = append(c.paras, paragraph{text: t, tokens: toks})
		if cfg.maxParagraphs > 0 && len(c.paras) >= cfg.maxParagraphs {
			break
		}
	}
	return c
}

// TopK returns up to k best-matching paragraphs by Jaccard similarity.
// Ties break toward shorter text, then lexicographically, so results are
// stable across runs.
func (c *corpus) TopK(query string, k int) []Snippet {
	if len(c.paras) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(query, c.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	scored := make([]Snippet, 0, len(c.paras))
	for _, p := range c.paras {
		inter := intersect(qTokens, p.tokens)
		if inter == 0 {
			continue
		}
		union := len(qTokens) + len(p.tokens) - inter
		scored = append(scored, Snippet{Text: p.text, Score: float64(inter) / float64(union)})
	}
	if len(scored) == 0 {
		return nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		li, lj := utf8.RuneCountInString(scored[i].Text), utf8.RuneCountInString(scored[j].Text)
		if li != lj {
			return li < lj
		}
		return scored[i].Text < scored[j].Text
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

var tokenRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := tokenRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func intersect(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

var blankLineRE = regexp.MustCompile(`\n\s*\n`)

func splitParagraphs(all []byte) []string {
	chunks := blankLineRE.Split(string(all), -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}
