package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURL_AbsolutePassthrough(t *testing.T) {
	resolved, err := ResolveURL("https://welfare.taipei.gov.tw/News.aspx", "https://other.gov.tw/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://other.gov.tw/doc.pdf", resolved)
}

func TestResolveURL_RelativePath(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		candidate string
		expected  string
	}{
		{
			name:      "root relative",
			base:      "https://welfare.taipei.gov.tw/News/List.aspx",
			candidate: "/News/Detail.aspx?id=42",
			expected:  "https://welfare.taipei.gov.tw/News/Detail.aspx?id=42",
		},
		{
			name:      "sibling relative",
			base:      "https://social.tainan.gov.tw/list/page1",
			candidate: "detail?sn=7",
			expected:  "https://social.tainan.gov.tw/list/detail?sn=7",
		},
		{
			name:      "query only",
			base:      "https://example.gov.tw/News.aspx",
			candidate: "?page=2",
			expected:  "https://example.gov.tw/News.aspx?page=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := ResolveURL(tt.base, tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolved)
		})
	}
}

func TestResolveURL_Errors(t *testing.T) {
	_, err := ResolveURL("https://example.gov.tw", "")
	assert.Error(t, err)

	_, err = ResolveURL("://bad base", "/path")
	assert.Error(t, err)
}
