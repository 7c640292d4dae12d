package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"https://www.example.com/":           "example.com.csv",
		"https://www.example.com/news/2024/": "example.com_news_2024.csv",
		"http://blog.example.org/a":          "blog.example.org_a.csv",
		"example.com":                        "example.com.csv",
		"":                                   "crawl.csv",
	}
	for in, want := range tests {
		assert.Equal(t, want, FileName(in), in)
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "example.com.csv")
	urls := []string{"https://example.com/", "https://example.com/a,b"}
	require.NoError(t, WriteCSV(path, urls))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/\n\"https://example.com/a,b\"\n", string(data))
}
