package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/deepresearch/internal/app"
	"github.com/Kocoro-lab/deepresearch/internal/evidence"
	"github.com/Kocoro-lab/deepresearch/internal/research"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <index-id> <file>...",
	Short: "Load local documents into an index for index-backed research",
	Long: `Chunks and embeds the given files into the vector collection named by
index-id. Jobs started with that index id search it after the web pass.

HTML files are reduced to their readable text first; every other file is
ingested as is.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		docs, err := readDocuments(args[1:])
		if err != nil {
			return err
		}
		a, err := buildApp(ctx, app.Options{SkipEvidence: true, SkipGeneration: true})
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Ingester == nil {
			return errors.New("embeddings are not configured")
		}
		n, err := a.Ingester.Ingest(ctx, args[0], docs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunk(s) from %d file(s) into %s\n", n, len(docs), args[0])
		return nil
	},
}

// readDocuments turns files into documents sourced by their absolute path.
func readDocuments(paths []string) ([]research.Document, error) {
	docs := make([]research.Document, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		doc := research.Document{Source: "file://" + filepath.ToSlash(abs), Title: filepath.Base(p), Content: string(raw)}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".html", ".htm":
			page, err := evidence.ParsePage(doc.Content)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			doc.Content = page.Markdown
			if page.Title != "" {
				doc.Title = page.Title
			}
		}
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
