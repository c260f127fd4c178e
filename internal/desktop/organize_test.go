package desktop

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindow(server, uri, content string, priority int, fullscreen bool) WindowInfo {
	query := ""
	if priority != 0 {
		query = fmt.Sprintf("?priority=%d", priority)
	}
	if fullscreen {
		if query == "" {
			query = "?fullscreen=true"
		} else {
			query += "&fullscreen=true"
		}
	}
	return WindowInfo{
		Server: server,
		URI:    uri + query,
		Texts:  []string{content},
	}
}

func TestOrganize_Basic(t *testing.T) {
	windows := []WindowInfo{
		testWindow("server1", "window://server1.mcp.com/window1", "Content 1", 0, false),
		testWindow("server2", "window://server2.mcp.com/window1", "Content 2", 0, false),
	}

	result := Organize(windows, nil, nil)

	require.Len(t, result, 2)
	assert.Contains(t, result[0], "window://server1.mcp.com/window1")
	assert.Contains(t, result[0], "Content 1")
	assert.Contains(t, result[1], "window://server2.mcp.com/window1")
	assert.Contains(t, result[1], "Content 2")
}

func TestOrganize_SizeCap(t *testing.T) {
	windows := []WindowInfo{
		testWindow("server1", "window://server1.mcp.com/window1", "Content 1", 0, false),
		testWindow("server2", "window://server2.mcp.com/window1", "Content 2", 0, false),
		testWindow("server3", "window://server3.mcp.com/window1", "Content 3", 0, false),
	}

	assert.Len(t, Organize(windows, intPtr(2), nil), 2)
	assert.Empty(t, Organize(windows, intPtr(0), nil))
	assert.Len(t, Organize(windows, nil, nil), 3)
}

func TestOrganize_PriorityDescending(t *testing.T) {
	windows := []WindowInfo{
		testWindow("server1", "window://server1.mcp.com/window1", "Min", 0, false),
		testWindow("server1", "window://server1.mcp.com/window2", "Max", 100, false),
		testWindow("server1", "window://server1.mcp.com/window3", "Mid", 50, false),
	}

	result := Organize(windows, nil, nil)

	require.Len(t, result, 3)
	assert.Contains(t, result[0], "Max")
	assert.Contains(t, result[1], "Mid")
	assert.Contains(t, result[2], "Min")
}

func TestOrganize_HistoryOrdersServers(t *testing.T) {
	windows := []WindowInfo{
		testWindow("serverA", "window://serverA.mcp.com/window1", "Content A", 1, false),
		testWindow("serverB", "window://serverB.mcp.com/window1", "Content B", 1, false),
		testWindow("serverC", "window://serverC.mcp.com/window1", "Content C", 1, false),
	}

	// Most recent last: C was used after A; B never used.
	result := Organize(windows, nil, []string{"serverA", "serverC"})

	require.Len(t, result, 3)
	assert.Contains(t, result[0], "serverC.mcp.com")
	assert.Contains(t, result[1], "serverA.mcp.com")
	assert.Contains(t, result[2], "serverB.mcp.com")
}

func TestOrganize_HistoryWithUnknownServer(t *testing.T) {
	windows := []WindowInfo{
		testWindow("serverA", "window://serverA.mcp.com/a", "a", 0, false),
		testWindow("serverB", "window://serverB.mcp.com/b", "b", 0, false),
	}

	result := Organize(windows, nil, []string{"nonexistent", "serverB"})

	require.Len(t, result, 2)
	assert.Contains(t, result[0], "serverB.mcp.com")
	assert.Contains(t, result[1], "serverA.mcp.com")
}

func TestOrganize_FullscreenEmitsSingleWindow(t *testing.T) {
	windows := []WindowInfo{
		testWindow("server1", "window://server1.mcp.com/window1", "Content 1", 0, false),
		testWindow("server1", "window://server1.mcp.com/window2", "Content 2", 0, true),
		testWindow("server1", "window://server1.mcp.com/window3", "Content 3", 0, false),
	}

	result := Organize(windows, nil, nil)

	require.Len(t, result, 1)
	assert.Contains(t, result[0], "window2")
}

func TestOrganize_MultipleFullscreenPicksFirst(t *testing.T) {
	windows := []WindowInfo{
		testWindow("server1", "window://server1.mcp.com/window1", "Content 1", 0, true),
		testWindow("server1", "window://server1.mcp.com/window2", "Content 2", 0, true),
		testWindow("server1", "window://server1.mcp.com/window3", "Content 3", 0, false),
	}

	result := Organize(windows, nil, nil)

	require.Len(t, result, 1)
	assert.Contains(t, result[0], "window1")
}

func TestOrganize_FullscreenThenNextServer(t *testing.T) {
	windows := []WindowInfo{
		testWindow("serverA", "window://serverA.mcp.com/a1", "a1", 50, false),
		testWindow("serverA", "window://serverA.mcp.com/a2", "a2-full", 10, true),
		testWindow("serverA", "window://serverA.mcp.com/a3", "a3", 90, false),
		testWindow("serverB", "window://serverB.mcp.com/b1", "b1", 5, false),
	}

	result := Organize(windows, nil, []string{"serverA"})

	require.Len(t, result, 2)
	assert.Contains(t, result[0], "a2-full")
	assert.Contains(t, result[1], "b1")
}

func TestOrganize_ScenarioFullscreenWithHistory(t *testing.T) {
	windows := []WindowInfo{
		testWindow("A", "window://a.mcp.com/a1", "a1", 80, false),
		testWindow("A", "window://a.mcp.com/a2", "a2", 90, true),
		testWindow("B", "window://b.mcp.com/b1", "b1", 60, false),
	}

	// With B in history: b1 first, then A's fullscreen a2 only.
	result := Organize(windows, nil, []string{"B"})
	require.Len(t, result, 2)
	assert.Contains(t, result[0], "b1")
	assert.Contains(t, result[1], "a2")

	// Without history: A before B lexicographically, a2 halts A.
	result = Organize(windows, nil, nil)
	require.Len(t, result, 2)
	assert.Contains(t, result[0], "a2")
	assert.Contains(t, result[1], "b1")
}

func TestOrganize_SkipsEmptyContentAndBadURIs(t *testing.T) {
	windows := []WindowInfo{
		{Server: "server1", URI: "window://server1.mcp.com/empty", Texts: nil},
		{Server: "server1", URI: ":::this_is_not_a_uri", Texts: []string{"bad"}},
		testWindow("server1", "window://server1.mcp.com/good", "good", 0, false),
	}

	result := Organize(windows, nil, nil)

	require.Len(t, result, 1)
	assert.Contains(t, result[0], "good")
}

func TestOrganize_Deterministic(t *testing.T) {
	windows := []WindowInfo{
		testWindow("s2", "window://s2.mcp.com/w1", "x", 10, false),
		testWindow("s1", "window://s1.mcp.com/w1", "y", 20, false),
		testWindow("s1", "window://s1.mcp.com/w2", "z", 20, false),
		testWindow("s3", "window://s3.mcp.com/w1", "q", 0, false),
	}
	history := []string{"s3", "s2"}

	first := Organize(windows, intPtr(3), history)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Organize(windows, intPtr(3), history))
	}
}

func TestRenderWindow(t *testing.T) {
	assert.Equal(t, "window://h/w\n\na\n\nb", renderWindow(WindowInfo{
		Server: "s", URI: "window://h/w", Texts: []string{"a", "", "b"},
	}))

	// No text body falls back to the bare URI.
	assert.Equal(t, "window://h/w", renderWindow(WindowInfo{
		Server: "s", URI: "window://h/w", Texts: []string{"", "  "},
	}))
}
