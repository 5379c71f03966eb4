package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/clafollett/mcpgen/internal/manifest"
	"github.com/clafollett/mcpgen/internal/templates"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List available template sets",
		Long:  "List the builtin template sets, or the sets found below --template-dir.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cmd.Flags().GetString("template-dir")
			if err != nil {
				return err
			}
			sets, err := listSets(dir)
			if err != nil {
				return describeError(err)
			}
			w := cmd.OutOrStdout()
			bold := color.New(color.Bold, color.FgCyan)
			for _, s := range sets {
				bold.Fprintf(w, "%-16s", s.Name)
				lang := s.Manifest.Language
				if lang == "" {
					lang = "go"
				}
				fmt.Fprintf(w, " %-5s %s\n", lang, s.Manifest.Description)
				for _, v := range s.Manifest.Variables {
					req := ""
					if v.Required {
						req = " (required)"
					}
					fmt.Fprintf(w, "    %s: %s%s\n", v.Name, v.Shape, req)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("template-dir", "", "Directory holding template sets")
	return cmd
}

func listSets(dir string) ([]*templates.Set, error) {
	if dir == "" {
		r, err := templates.Builtin()
		if err != nil {
			return nil, err
		}
		return r.List(), nil
	}
	if _, err := os.Stat(filepath.Join(dir, manifest.FileName)); err == nil {
		s, err := templates.OpenDir(dir)
		if err != nil {
			return nil, err
		}
		return []*templates.Set{s}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newUsageError(fmt.Sprintf("templates: %v", err))
	}
	var sets []*templates.Set
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(sub, manifest.FileName)); err != nil {
			continue
		}
		s, err := templates.OpenDir(sub)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].Name < sets[j].Name })
	return sets, nil
}
