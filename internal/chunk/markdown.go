package chunk

import (
	"context"
	"regexp"
	"strings"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
)

// KindSection is the symbol kind of a markdown section.
const KindSection = "section"

var (
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	fenceLine   = regexp.MustCompile("^\\s*(```|~~~)")
)

// Markdown chunks documents by heading. Each section carries its heading
// trail ("Install > Linux") as its symbol; long sections are windowed.
type Markdown struct {
	opts Options
}

// NewMarkdown creates a heading-aware chunker.
func NewMarkdown(opts Options) (*Markdown, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Markdown{opts: opts}, nil
}

// Supports reports true for markdown.
func (m *Markdown) Supports(language string) bool { return language == "markdown" }

type section struct {
	start, end int
	trail      string
}

// Chunk splits a markdown document into sections.
func (m *Markdown) Chunk(ctx context.Context, path string, content []byte, language string) ([]domain.CodeChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, amerrors.Cancelled("chunking cancelled", err)
	}
	lines := splitLines(string(content))
	if isBlank(lines) {
		return []domain.CodeChunk{}, nil
	}

	var (
		sections []section
		trail    []string
		inFence  bool
		cur      = section{start: 1}
	)
	for i, line := range lines {
		if fenceLine.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		h := headingLine.FindStringSubmatch(line)
		if h == nil {
			continue
		}
		if i > 0 {
			cur.end = i
			sections = append(sections, cur)
		}
		level := len(h[1])
		if level <= len(trail) {
			trail = trail[:level-1]
		}
		for len(trail) < level-1 {
			trail = append(trail, "")
		}
		trail = append(trail, h[2])
		cur = section{start: i + 1, trail: joinTrail(trail)}
	}
	cur.end = len(lines)
	sections = append(sections, cur)

	header := "<!-- File: " + path + " -->"
	out := make([]domain.CodeChunk, 0, len(sections))
	for _, s := range sections {
		for s.end > s.start && strings.TrimSpace(lines[s.end-1]) == "" {
			s.end--
		}
		body := lines[s.start-1 : s.end]
		if isBlank(body) {
			continue
		}
		meta := map[string]any{MetaKind: KindSection, MetaContext: header}
		if s.trail != "" {
			meta[MetaSymbol] = s.trail
		}
		if len(body) > m.opts.MaxLines {
			out = append(out, windows(path, language, body, s.start, m.opts, meta)...)
			continue
		}
		meta[MetaChunker] = "markdown"
		out = append(out, newChunk(path, language, strings.Join(body, "\n"), s.start, s.end, meta))
	}
	return out, nil
}

func joinTrail(trail []string) string {
	parts := make([]string, 0, len(trail))
	for _, t := range trail {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " > ")
}
