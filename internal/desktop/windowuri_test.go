package desktop

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestParseWindowURI_Minimal(t *testing.T) {
	w, err := ParseWindowURI("window://com.example.mcp")
	require.NoError(t, err)
	assert.Equal(t, "com.example.mcp", w.Host)
	assert.Empty(t, w.Segments)
	assert.Nil(t, w.Priority)
	assert.Nil(t, w.Fullscreen)
}

func TestParseWindowURI_WithPaths(t *testing.T) {
	w, err := ParseWindowURI("window://com.example.mcp/dashboard/main")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "main"}, w.Segments)
}

func TestParseWindowURI_WithQueryParams(t *testing.T) {
	w, err := ParseWindowURI("window://com.example.mcp/page?priority=90&fullscreen=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"page"}, w.Segments)
	require.NotNil(t, w.Priority)
	assert.Equal(t, 90, *w.Priority)
	require.NotNil(t, w.Fullscreen)
	assert.True(t, *w.Fullscreen)
}

func TestParseWindowURI_Invalid(t *testing.T) {
	tests := []string{
		"http://example.com",
		"window://",
		":::this_is_not_a_uri",
		"window://x?priority=-1",
		"window://x?priority=101",
	}
	for _, uri := range tests {
		_, err := ParseWindowURI(uri)
		assert.Error(t, err, "uri %s", uri)
	}
}

func TestParseWindowURI_PriorityBounds(t *testing.T) {
	for _, p := range []int{0, 50, 100} {
		w, err := ParseWindowURI(fmt.Sprintf("window://x?priority=%d", p))
		require.NoError(t, err)
		require.NotNil(t, w.Priority)
		assert.Equal(t, p, *w.Priority)
	}
}

func TestParseWindowURI_FullscreenVariants(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"true", true}, {"1", true}, {"yes", true}, {"on", true},
		{"TRUE", true}, {"Yes", true},
		{"false", false}, {"0", false}, {"no", false}, {"off", false},
	}
	for _, tc := range tests {
		w, err := ParseWindowURI("window://x?fullscreen=" + tc.value)
		require.NoError(t, err)
		require.NotNil(t, w.Fullscreen, "value %s", tc.value)
		assert.Equal(t, tc.expected, *w.Fullscreen, "value %s", tc.value)
	}

	// Unrecognized value is treated as unset.
	w, err := ParseWindowURI("window://x?fullscreen=maybe")
	require.NoError(t, err)
	assert.Nil(t, w.Fullscreen)
}

func TestBuildWindowURI(t *testing.T) {
	uri, err := BuildWindowURI("com.example.mcp", []string{"dashboard", "main"}, intPtr(80), boolPtr(false))
	require.NoError(t, err)
	assert.Contains(t, uri, "window://com.example.mcp/dashboard/main")
	assert.Contains(t, uri, "priority=80")
	assert.Contains(t, uri, "fullscreen=false")

	_, err = BuildWindowURI("", nil, nil, nil)
	assert.Error(t, err)

	_, err = BuildWindowURI("host", nil, intPtr(101), nil)
	assert.Error(t, err)
}

func TestWindowURI_RoundTrip(t *testing.T) {
	tests := []struct {
		host       string
		segments   []string
		priority   *int
		fullscreen *bool
	}{
		{"host", nil, nil, nil},
		{"host", []string{"a", "b"}, intPtr(50), boolPtr(true)},
		{"host", []string{"has space", "ürsula"}, intPtr(0), boolPtr(false)},
		{"com.example.mcp", []string{"dashboard"}, intPtr(100), nil},
	}

	for _, tc := range tests {
		built, err := BuildWindowURI(tc.host, tc.segments, tc.priority, tc.fullscreen)
		require.NoError(t, err)

		parsed, err := ParseWindowURI(built)
		require.NoError(t, err, "uri %s", built)

		assert.Equal(t, tc.host, parsed.Host)
		assert.Equal(t, tc.segments, parsed.Segments)
		assert.Equal(t, tc.priority, parsed.Priority)
		assert.Equal(t, tc.fullscreen, parsed.Fullscreen)

		// Re-parsing the canonical form is stable.
		reparsed, err := ParseWindowURI(parsed.String())
		require.NoError(t, err)
		assert.Equal(t, parsed, reparsed)
	}
}

func TestIsWindowURI(t *testing.T) {
	assert.True(t, IsWindowURI("window://com.example.mcp"))
	assert.True(t, IsWindowURI("window://host/path?priority=50"))
	assert.False(t, IsWindowURI("http://example.com"))
	assert.False(t, IsWindowURI("window://"))
}

func TestPriorityOf(t *testing.T) {
	assert.Equal(t, 90, PriorityOf("window://x?priority=90"))
	assert.Equal(t, 0, PriorityOf("window://x"))
	assert.Equal(t, 0, PriorityOf("not-a-uri"))
}
