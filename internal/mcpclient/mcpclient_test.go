package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	require.Equal(t, "my_server_do_thing", sanitizeName("my server_do/thing"))
	require.Equal(t, "a_b_c", sanitizeName("a:b:c"))
}

func TestSanitizeSchemaFillsDefaults(t *testing.T) {
	s := map[string]any{"type": "object"}
	sanitizeSchema(s)
	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	require.Empty(t, props)
}

func TestSanitizeSchemaArrayGetsItems(t *testing.T) {
	s := map[string]any{"type": "array"}
	sanitizeSchema(s)
	items, ok := s["items"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "string", items["type"])
}

func TestSanitizeSchemaRecursesIntoProperties(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{"type": "array"},
		},
	}
	sanitizeSchema(s)
	props := s["properties"].(map[string]any)
	tags := props["tags"].(map[string]any)
	require.Contains(t, tags, "items")
}

func TestSanitizeSchemaNormalizesRequired(t *testing.T) {
	s := map[string]any{"type": "object", "required": []any{"a", "b"}}
	sanitizeSchema(s)
	req, ok := s["required"].([]string)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, req)
}

func TestDefaultOrigin(t *testing.T) {
	require.Equal(t, "https://hearth.local", defaultOrigin(""))
	require.Equal(t, "https://example.com", defaultOrigin("https://example.com"))
}
