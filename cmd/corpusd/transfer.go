package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/universal-corpus/patterns/config"
	"github.com/universal-corpus/patterns/core/compact"
	"github.com/universal-corpus/patterns/core/pattern"
	"github.com/universal-corpus/patterns/core/store"
	"github.com/universal-corpus/patterns/core/tabular"
	"github.com/universal-corpus/patterns/sqlite"
)

// transfer formats accepted by the import and export commands.
const (
	formatJSONL        = "jsonl"
	formatJSONLCompact = "jsonl-compact"
	formatCSV          = "csv"
	formatCSVSimple    = "csv-simple"
)

func importCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import patterns from a JSONL or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, logger, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()
			defer logger.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			patterns, err := decodeBatch(f, format)
			if err != nil {
				return err
			}

			created, updated := 0, 0
			ctx := cmd.Context()
			for _, p := range patterns {
				err := repo.Create(ctx, p)
				if errors.Is(err, store.ErrExists) {
					err = repo.Replace(ctx, p)
					if err == nil {
						updated++
						continue
					}
				} else if err == nil {
					created++
					continue
				}
				return fmt.Errorf("import %s: %w", p.ID, err)
			}
			logger.Info("import complete",
				zap.Int("created", created), zap.Int("updated", updated))
			fmt.Printf("imported %d patterns (%d created, %d updated)\n",
				created+updated, created, updated)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSONL,
		"input format: jsonl, jsonl-compact, or csv")
	return cmd
}

func exportCmd() *cobra.Command {
	var format string
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog to JSONL or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, logger, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()
			defer logger.Sync()

			patterns, err := listAll(cmd.Context(), repo)
			if err != nil {
				return err
			}

			out := os.Stdout
			if output != "" {
				out, err = os.Create(output)
				if err != nil {
					return err
				}
				defer out.Close()
			}
			return encodeBatch(out, format, patterns)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSONL,
		"output format: jsonl, jsonl-compact, csv, or csv-simple")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func openRepo() (*sqlite.Repository, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	repo, err := sqlite.Open(cfg.Database.Path, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return repo, logger, nil
}

func listAll(ctx context.Context, repo store.Repository) ([]*pattern.Pattern, error) {
	const page = 500
	var all []*pattern.Pattern
	for offset := 0; ; offset += page {
		batch, err := repo.List(ctx, store.Filter{Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < page {
			return all, nil
		}
	}
}

func decodeBatch(r io.Reader, format string) ([]*pattern.Pattern, error) {
	switch format {
	case formatJSONL:
		return readCanonicalJSONL(r)
	case formatJSONLCompact:
		return compact.ReadJSONL(r)
	case formatCSV:
		return tabular.ReadCSV(r)
	default:
		return nil, fmt.Errorf("unknown import format %q", format)
	}
}

func encodeBatch(w io.Writer, format string, patterns []*pattern.Pattern) error {
	switch format {
	case formatJSONL:
		for _, p := range patterns {
			raw, err := p.MarshalCanonical()
			if err != nil {
				return fmt.Errorf("encode %s: %w", p.ID, err)
			}
			if _, err := fmt.Fprintf(w, "%s\n", raw); err != nil {
				return err
			}
		}
		return nil
	case formatJSONLCompact:
		return compact.WriteJSONL(w, patterns)
	case formatCSV:
		return tabular.WriteCSV(w, patterns)
	case formatCSVSimple:
		return tabular.WriteCSVSimple(w, patterns)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func readCanonicalJSONL(r io.Reader) ([]*pattern.Pattern, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var out []*pattern.Pattern
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		p, err := pattern.FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line, err)
	}
	return out, nil
}
