package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/carbonview/cbam-cli/internal/model"
	"github.com/carbonview/cbam-cli/internal/store"
)

var indexCmd = &cobra.Command{
	Use:   "index <dir>",
	Short: "Ingest a directory of documents and rebuild the search index",
	Long:  "Reads every .txt and .md file in the directory, splits them into overlapping chunks, embeds each chunk, and atomically replaces the persisted index snapshot.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := loadDocuments(args[0])
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return eris.Errorf("no .txt or .md documents found in %s", args[0])
		}

		idx, err := env.Builder.Build(cmd.Context(), docs)
		if err != nil {
			return eris.Wrap(err, "build index")
		}

		snap := store.IndexSnapshot{Documents: docs}
		for _, e := range idx.Entries() {
			snap.Chunks = append(snap.Chunks, e.Chunk)
			snap.Embeddings = append(snap.Embeddings, model.Embedding{ChunkID: e.Chunk.ID, Vector: e.Vector})
		}
		if err := env.Store.SaveIndex(cmd.Context(), snap); err != nil {
			return eris.Wrap(err, "persist index snapshot")
		}

		env.Retriever.Publish(idx)
		zap.L().Info("index rebuilt",
			zap.Int("documents", len(docs)),
			zap.Int("chunks", idx.Len()),
		)
		fmt.Printf("Indexed %d documents (%d chunks).\n", len(docs), idx.Len())
		return nil
	},
}

// docFrontMatter is the optional metadata block at the top of a document,
// delimited by "---" lines.
type docFrontMatter struct {
	Title        string `yaml:"title"`
	Jurisdiction string `yaml:"jurisdiction"`
	PublishedAt  string `yaml:"published_at"` // YYYY-MM-DD
}

// splitFrontMatter extracts the metadata block if present and returns the
// remaining body. Documents without a block pass through unchanged.
func splitFrontMatter(text string) (docFrontMatter, string, error) {
	var fm docFrontMatter
	if !strings.HasPrefix(text, "---\n") {
		return fm, text, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, text, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return fm, "", eris.Wrap(err, "parse front matter")
	}
	body := rest[end+len("\n---"):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return fm, body, nil
}

// loadDocuments reads .txt/.md files from dir in name order. The filename
// (without extension) becomes the document title unless front matter
// overrides it.
func loadDocuments(dir string) ([]model.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read directory %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".txt" || ext == ".md" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make([]model.Document, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read document %s", path)
		}
		fm, body, err := splitFrontMatter(string(data))
		if err != nil {
			return nil, eris.Wrapf(err, "document %s", path)
		}
		text := strings.TrimSpace(body)
		if text == "" {
			zap.L().Warn("skipping empty document", zap.String("path", path))
			continue
		}

		title := fm.Title
		if title == "" {
			title = strings.TrimSuffix(name, filepath.Ext(name))
		}
		doc := model.Document{
			ID:           uuid.NewString(),
			Title:        title,
			Jurisdiction: fm.Jurisdiction,
			SourceURI:    path,
			Text:         text,
		}
		if fm.PublishedAt != "" {
			ts, err := time.Parse("2006-01-02", fm.PublishedAt)
			if err != nil {
				return nil, eris.Wrapf(err, "document %s: published_at", path)
			}
			doc.PublishedAt = ts
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
