package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelcrawler/internal/output"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRootRequiresSeedAndKeyword(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"https://example.com"},
		{"https://example.com", "news", "extra"},
	} {
		stdout, stderr, err := execute(t, args...)
		require.Error(t, err, "args %v", args)
		assert.Contains(t, stderr, "accepts 2 arg(s)")
		assert.Contains(t, stdout+stderr, "Usage:")
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "levelcrawl dev\n", stdout)
}

func siteServer() *httptest.Server {
	pages := map[string]string{
		"/":  `<a href="/a">a</a> <a href="/b">b</a> <a href="mailto:x@example.com">mail</a> <a href="https://elsewhere.example/">out</a>`,
		"/a": `<a href="/c">c</a> <a href="/a#comments">self</a>`,
		"/c": `<a href="/d">d</a>`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	}))
}

func TestCrawlWritesCSV(t *testing.T) {
	srv := siteServer()
	defer srv.Close()
	dir := t.TempDir()
	seed := srv.URL + "/"

	stdout, _, err := execute(t, seed, "", "--levels", "1", "--out", dir)
	require.NoError(t, err)

	path := filepath.Join(dir, output.FileName(seed))
	assert.Contains(t, stdout, "4 urls written to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{seed, srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"},
		strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestCrawlReadsConfigFile(t *testing.T) {
	srv := siteServer()
	defer srv.Close()
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "levelcrawl.yaml")
	cfg := fmt.Sprintf("crawl:\n  levels: 0\n  concurrency: 2\noutput:\n  directory: %s\nlogging:\n  level: error\n", dir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	seed := srv.URL + "/"
	_, _, err := execute(t, seed, "", "--config", cfgPath)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, output.FileName(seed)))
	require.NoError(t, err)
	assert.Equal(t, []string{seed, srv.URL + "/a", srv.URL + "/b"},
		strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestCrawlRejectsBadConfig(t *testing.T) {
	_, _, err := execute(t, "https://example.com", "", "--concurrency", "0", "--out", t.TempDir())
	assert.ErrorContains(t, err, "crawl.concurrency")
}

func TestSitemapHarvestIntoSQLite(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<sitemapindex><sitemap><loc>%s/post-sitemap.xml</loc></sitemap></sitemapindex>`, srv.URL)
		case "/post-sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<urlset><url><loc>%s/post/1</loc></url></urlset>`, srv.URL)
		case "/post/1":
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, `<html><head><title>Eins</title></head><body><article><p>Hallo</p></article></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "levelcrawl.yaml")
	cfg := "sitemap:\n  article_delay: 0s\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	stdout, _, err := execute(t, "sitemap", srv.URL, "--config", cfgPath, "--out", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 stored, 0 updated, 0 skipped, 0 failed")
	assert.FileExists(t, filepath.Join(dir, defaultArticleDB))

	stdout, _, err = execute(t, "sitemap", srv.URL, "--config", cfgPath, "--out", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 stored, 0 updated, 1 skipped, 0 failed")
}
