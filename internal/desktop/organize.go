package desktop

import (
	"sort"
	"strings"
)

// WindowInfo is one window collected from an MCP server, ready for
// aggregation: its owning server, its URI, and the text blocks read from it.
type WindowInfo struct {
	Server string
	URI    string
	Texts  []string
}

type windowItem struct {
	info          WindowInfo
	priority      int
	fullscreen    bool
	originalIndex int
}

// Organize assembles the desktop view from collected windows.
//
// Server order puts servers from recentServers first (most recent first,
// deduplicated), then the remaining servers lexicographically. Within a
// server, windows are ordered by priority descending. A server containing a
// fullscreen window contributes only the first such window (lowest original
// index). size caps the global output: nil means unbounded, zero or negative
// yields an empty desktop. Windows without readable content or with
// unparseable URIs are skipped. recentServers is most-recent-last, matching
// the call-history order it is derived from.
func Organize(windows []WindowInfo, size *int, recentServers []string) []string {
	if size != nil && *size <= 0 {
		return nil
	}

	grouped := make(map[string][]windowItem)
	for idx, win := range windows {
		if len(win.Texts) == 0 {
			continue
		}
		parsed, err := ParseWindowURI(win.URI)
		if err != nil {
			continue
		}
		item := windowItem{info: win, originalIndex: idx}
		if parsed.Priority != nil {
			item.priority = *parsed.Priority
		}
		if parsed.Fullscreen != nil {
			item.fullscreen = *parsed.Fullscreen
		}
		grouped[win.Server] = append(grouped[win.Server], item)
	}

	// Most recently used servers first, deduplicated.
	seen := make(map[string]bool)
	var order []string
	for i := len(recentServers) - 1; i >= 0; i-- {
		server := recentServers[i]
		if _, ok := grouped[server]; ok && !seen[server] {
			seen[server] = true
			order = append(order, server)
		}
	}
	var remaining []string
	for server := range grouped {
		if !seen[server] {
			remaining = append(remaining, server)
		}
	}
	sort.Strings(remaining)
	order = append(order, remaining...)

	for _, items := range grouped {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].priority > items[j].priority
		})
	}

	limit := -1
	if size != nil {
		limit = *size
	}

	var result []string
	for _, server := range order {
		if limit >= 0 && len(result) >= limit {
			break
		}

		items := grouped[server]

		var fullscreenItem *windowItem
		for i := range items {
			if !items[i].fullscreen {
				continue
			}
			if fullscreenItem == nil || items[i].originalIndex < fullscreenItem.originalIndex {
				fullscreenItem = &items[i]
			}
		}
		if fullscreenItem != nil {
			result = append(result, renderWindow(fullscreenItem.info))
			continue
		}

		for _, item := range items {
			if limit >= 0 && len(result) >= limit {
				break
			}
			result = append(result, renderWindow(item.info))
		}
	}

	return result
}

// renderWindow produces "<uri>\n\n<joined text>"; a window with no text body
// falls back to just its URI.
func renderWindow(win WindowInfo) string {
	var parts []string
	for _, text := range win.Texts {
		if text != "" {
			parts = append(parts, text)
		}
	}
	body := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if body == "" {
		return win.URI
	}
	return win.URI + "\n\n" + body
}
