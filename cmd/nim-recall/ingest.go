package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-recall/document"
)

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest text and markdown files as documents",
	Long: `Loads each file, chunks it and embeds every chunk. Directories are
walked recursively; unsupported file types are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (single file only)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if ingestTitle != "" && len(files) != 1 {
		return fmt.Errorf("--title needs exactly one file, got %d", len(files))
	}

	ctx := cmd.Context()
	for _, path := range files {
		f, err := document.LoadFile(path)
		if err != nil {
			return err
		}
		if ingestTitle != "" {
			f.Title = ingestTitle
		}
		id, err := a.engine.Documents().Add(ctx, f.Title, f.Content, f.Source, f.Metadata)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		cmd.Printf("Ingested %s as document %d\n", path, id)
	}
	return nil
}

// collectFiles expands directories into the supported files below them.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && document.IsSupported(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
