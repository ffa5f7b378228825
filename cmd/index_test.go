package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDocuments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("b-implementing-act.md", "Implementing act text.")
	write("a-regulation.txt", "Regulation text.")
	write("notes.pdf", "ignored")
	write("empty.txt", "   ")

	docs, err := loadDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "a-regulation", docs[0].Title, "name order, extension stripped")
	assert.Equal(t, "Regulation text.", docs[0].Text)
	assert.Equal(t, "b-implementing-act", docs[1].Title)
	assert.NotEmpty(t, docs[0].ID)
	assert.NotEqual(t, docs[0].ID, docs[1].ID)
}

func TestLoadDocuments_FrontMatter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "---\ntitle: CBAM Regulation 2023/956\njurisdiction: EU\npublished_at: 2023-05-16\n---\nArticle 1. Scope of the mechanism."
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reg.md"), []byte(content), 0o600))

	docs, err := loadDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "CBAM Regulation 2023/956", docs[0].Title)
	assert.Equal(t, "EU", docs[0].Jurisdiction)
	assert.Equal(t, 2023, docs[0].PublishedAt.Year())
	assert.Equal(t, "Article 1. Scope of the mechanism.", docs[0].Text)
}

func TestLoadDocuments_BadPublishedAt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "---\npublished_at: last spring\n---\nBody."
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reg.md"), []byte(content), 0o600))

	_, err := loadDocuments(dir)
	require.Error(t, err)
}

func TestSplitFrontMatter_NoBlock(t *testing.T) {
	t.Parallel()

	fm, body, err := splitFrontMatter("Plain document text.")
	require.NoError(t, err)
	assert.Empty(t, fm.Title)
	assert.Equal(t, "Plain document text.", body)
}

func TestLoadDocuments_MissingDir(t *testing.T) {
	t.Parallel()

	_, err := loadDocuments(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
