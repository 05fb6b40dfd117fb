package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"chatfeed/internal/models"
)

const minContentWidth = 10

type renderedItem struct {
	key   string
	lines []string
}

// itemRenderer turns messages into terminal rows. Rows are cached per message
// until its content, grouping or the terminal width changes.
type itemRenderer struct {
	width  int
	md     *glamour.TermRenderer
	styles styles
	cache  map[string]renderedItem
}

func newItemRenderer(s styles) *itemRenderer {
	return &itemRenderer{styles: s, cache: make(map[string]renderedItem)}
}

func (r *itemRenderer) setWidth(width int) error {
	if width == r.width && r.md != nil {
		return nil
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width-4, minContentWidth)),
	)
	if err != nil {
		return fmt.Errorf("creating markdown renderer: %w", err)
	}
	r.width = width
	r.md = md
	clear(r.cache)
	return nil
}

// forget drops cached rows for messages not in keep.
func (r *itemRenderer) forget(keep map[string]bool) {
	for id := range r.cache {
		if !keep[id] {
			delete(r.cache, id)
		}
	}
}

func (r *itemRenderer) render(m *models.Message, compact bool) []string {
	key := cacheKey(m, compact)
	if cached, ok := r.cache[m.ID]; ok && cached.key == key {
		return cached.lines
	}

	var lines []string
	if !compact {
		header := r.styles.author.Render(authorName(m)) + " " +
			r.styles.timestamp.Render(m.CreatedAt.Local().Format("Jan 2 15:04"))
		if m.EditedAt != nil {
			header += r.styles.meta.Render(" (edited)")
		}
		lines = append(lines, header)
	}

	lines = append(lines, r.body(m.Content)...)

	for _, a := range m.Attachments {
		line := fmt.Sprintf("  ▸ %s (%s)", a.Name, humanSize(a.Size))
		if a.URL != "" {
			line += " " + a.URL
		}
		lines = append(lines, r.styles.meta.Render(r.truncate(line)))
	}

	if m.HasReactions() {
		parts := make([]string, 0, len(m.Reactions))
		for _, re := range m.Reactions {
			if re.Count > 0 {
				parts = append(parts, re.Emoji+" "+strconv.Itoa(re.Count))
			}
		}
		lines = append(lines, r.styles.reaction.Render(r.truncate("  "+strings.Join(parts, "  "))))
	}

	r.cache[m.ID] = renderedItem{key: key, lines: lines}
	return lines
}

func (r *itemRenderer) body(content string) []string {
	if r.md != nil {
		out, err := r.md.Render(content)
		if err == nil {
			if lines := trimBlank(strings.Split(out, "\n")); len(lines) > 0 {
				return lines
			}
		}
	}
	wrapped := runewidth.Wrap(content, max(r.width-2, minContentWidth))
	lines := trimBlank(strings.Split(wrapped, "\n"))
	if len(lines) == 0 {
		return []string{""}
	}
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return lines
}

func (r *itemRenderer) truncate(s string) string {
	if r.width <= 0 {
		return s
	}
	return runewidth.Truncate(s, r.width, "…")
}

// trimBlank removes leading and trailing whitespace-only lines and trailing
// padding glamour adds to fill the wrap width.
func trimBlank(lines []string) []string {
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

func cacheKey(m *models.Message, compact bool) string {
	var b strings.Builder
	b.WriteString(strconv.FormatBool(compact))
	if m.EditedAt != nil {
		b.WriteString(strconv.FormatInt(m.EditedAt.UnixNano(), 36))
	}
	b.WriteByte('|')
	b.WriteString(m.Content)
	for _, a := range m.Attachments {
		b.WriteByte('|')
		b.WriteString(a.ID)
		b.WriteString(a.URL)
	}
	for _, re := range m.Reactions {
		fmt.Fprintf(&b, "|%s:%d", re.Emoji, re.Count)
	}
	return b.String()
}

func authorName(m *models.Message) string {
	if m.AuthorName != "" {
		return m.AuthorName
	}
	return m.AuthorID
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
