package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/core/classify"
)

type scanEntry struct {
	Path    string `json:"path" yaml:"path"`
	Verdict string `json:"verdict" yaml:"verdict"`
	Rule    string `json:"rule,omitempty" yaml:"rule,omitempty"`
	// OldIdentity marks rewritable files that still name the old identity
	OldIdentity bool `json:"old_identity" yaml:"old_identity"`
}

type scanOutput struct {
	Root    string         `json:"root" yaml:"root"`
	Entries []scanEntry    `json:"entries" yaml:"entries"`
	Counts  map[string]int `json:"counts" yaml:"counts"`
}

func newScanCmd(a *app) *cobra.Command {
	var (
		output string
		stray  bool
	)
	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Classify every file under a directory",
		Long: `Prints the verdict the installer would give every regular file under dir
(the configured root by default) and the rule that decided it. With
--stray only rewritable files that still name the old identity are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Root
			if len(args) == 1 {
				dir = args[0]
			}
			rule, err := a.cfg.Rule()
			if err != nil {
				return err
			}
			c := classify.New(a.cfg.ClassifierOptions())

			out := scanOutput{Root: dir, Counts: make(map[string]int)}
			err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				if !d.Type().IsRegular() {
					return nil
				}
				rel, _ := filepath.Rel(dir, p)
				rel = filepath.ToSlash(rel)

				data, err := readHeadAndBody(p)
				if err != nil {
					return err
				}
				verdict, by := c.Explain(rel, data)
				e := scanEntry{Path: rel, Verdict: verdict.String(), Rule: by}
				e.OldIdentity = verdict.Rewritable() && rule.Contains(data)

				out.Counts[e.Verdict]++
				if !stray || e.OldIdentity {
					out.Entries = append(out.Entries, e)
				}
				return nil
			})
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), output, out, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, e := range out.Entries {
					mark := ""
					if e.OldIdentity {
						mark = "old-identity"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Verdict, e.Rule, e.Path, mark)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintln(w)
				for verdict, n := range out.Counts {
					fmt.Fprintf(w, "%s: %d\n", verdict, n)
				}
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	cmd.Flags().BoolVar(&stray, "stray", false, "list only files still naming the old identity")
	return cmd
}

// maxScanSize bounds how much of one file scan reads
const maxScanSize = 4 << 20

func readHeadAndBody(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxScanSize))
}
