package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	type payload struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}

	t.Run("plain object", func(t *testing.T) {
		var p payload
		require.NoError(t, ExtractObject(`{"title":"a","content":"b"}`, &p))
		assert.Equal(t, "a", p.Title)
	})

	t.Run("object wrapped in prose", func(t *testing.T) {
		var p payload
		out := "Sure! Here is the chapter:\n```json\n{\"title\":\"a\",\"content\":\"b\"}\n```\nHope that helps."
		require.NoError(t, ExtractObject(out, &p))
		assert.Equal(t, "b", p.Content)
	})

	t.Run("nested braces", func(t *testing.T) {
		var p struct {
			Setting struct {
				Location string `json:"location"`
			} `json:"setting"`
		}
		require.NoError(t, ExtractObject(`{"setting":{"location":"harbor"}}`, &p))
		assert.Equal(t, "harbor", p.Setting.Location)
	})

	t.Run("braces inside string literals", func(t *testing.T) {
		var p payload
		require.NoError(t, ExtractObject(`{"title":"the } sign","content":"a \"quoted\" {thing}"}`, &p))
		assert.Equal(t, "the } sign", p.Title)
		assert.Equal(t, `a "quoted" {thing}`, p.Content)
	})

	t.Run("no object", func(t *testing.T) {
		var p payload
		err := ExtractObject("the model refused to answer", &p)
		var parseErr *ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "object", parseErr.Want)
		assert.EqualError(t, err, "no JSON object found in model output")
	})

	t.Run("unbalanced object", func(t *testing.T) {
		var p payload
		err := ExtractObject(`{"title":"truncated`, &p)
		var parseErr *ParseError
		require.True(t, errors.As(err, &parseErr))
	})
}

func TestExtractArray(t *testing.T) {
	t.Run("plain array", func(t *testing.T) {
		var items []string
		require.NoError(t, ExtractArray(`["one","two"]`, &items))
		assert.Equal(t, []string{"one", "two"}, items)
	})

	t.Run("array wrapped in prose", func(t *testing.T) {
		var items []string
		require.NoError(t, ExtractArray("Here you go:\n[\"a\", \"b\", \"c\"]\nEnjoy!", &items))
		assert.Len(t, items, 3)
	})

	t.Run("brackets inside strings", func(t *testing.T) {
		var items []string
		require.NoError(t, ExtractArray(`["scene [wide shot]","close up"]`, &items))
		assert.Equal(t, "scene [wide shot]", items[0])
	})

	t.Run("no array", func(t *testing.T) {
		var items []string
		err := ExtractArray(`{"not":"an array"}`, &items)
		var parseErr *ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "array", parseErr.Want)
	})
}
