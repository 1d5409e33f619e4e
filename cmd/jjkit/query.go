package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jjkit/jjkit/internal/engine"
)

// Read-only commands: status, log, diff, cat, annotate, obslog.

var (
	styleChangeID  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	styleCommitID  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleBookmark  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWIP       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleConflict  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleTimestamp = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the working-copy change, dirty paths and conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			st, err := repo.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			desc := st.WorkingCopy.Description
			if desc == "" {
				desc = styleWIP.Render("(no description set)")
			}
			fmt.Fprintf(out, "Working copy: %s %s\n", styleChangeID.Render(shortID(st.WorkingCopy.ChangeID)), desc)
			for _, p := range st.Dirty {
				fmt.Fprintf(out, "M %s\n", p)
			}
			if st.Conflicts > 0 {
				fmt.Fprintln(out, styleConflict.Render(fmt.Sprintf("%d unresolved conflicts", st.Conflicts)))
			}
			return nil
		},
	}
}

func newLogCmd() *cobra.Command {
	var revsetSrc string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List changes selected by a revset (default all())",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			entries, err := repo.Log(revsetSrc)
			if err != nil {
				return err
			}
			printLog(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVarP(&revsetSrc, "revisions", "r", "", "revset to list")
	return cmd
}

func printLog(out io.Writer, entries []engine.LogEntry) {
	for _, e := range entries {
		marker := " "
		if e.IsWorkingCopy {
			marker = "@"
		}
		line := fmt.Sprintf("%s %s %s", marker,
			styleChangeID.Render(shortID(e.ChangeID)),
			styleCommitID.Render(shortID(e.CommitID)))
		for _, b := range e.Bookmarks {
			line += " " + styleBookmark.Render(b)
		}
		if e.HasConflict {
			line += " " + styleConflict.Render("conflict")
		}
		ts := time.UnixMilli(e.Committer.Timestamp).UTC().Format("2006-01-02 15:04")
		line += " " + styleTimestamp.Render(ts)
		desc := e.Description
		if desc == "" {
			desc = styleWIP.Render("(no description set)")
		}
		fmt.Fprintf(out, "%s %s\n", line, firstLine(desc))
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func newDiffCmd() *cobra.Command {
	var rev string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "List the paths a change modifies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			entries, err := repo.Diff(rev)
			if err != nil {
				return err
			}
			for _, d := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%c %s\n", d.Status, d.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rev, "revision", "r", "@", "change to diff")
	return cmd
}

func newCatCmd() *cobra.Command {
	var rev string
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's content at a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			stream, err := repo.ReadFileStream(rev, args[0])
			if err != nil {
				return err
			}
			defer stream.Close()
			_, err = io.Copy(os.Stdout, stream)
			return err
		},
	}
	cmd.Flags().StringVarP(&rev, "revision", "r", "@", "revision to read from")
	return cmd
}

func newAnnotateCmd() *cobra.Command {
	var rev string
	cmd := &cobra.Command{
		Use:   "annotate <path>",
		Short: "Attribute each line of a file to the change that introduced it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			lines, err := repo.Annotate(rev, args[0])
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleChangeID.Render(shortID(l.ChangeID)), l.Line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rev, "revision", "r", "@", "revision to annotate at")
	return cmd
}

func newObslogCmd() *cobra.Command {
	var rev string
	cmd := &cobra.Command{
		Use:   "obslog",
		Short: "Show the commits a change has occupied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			entries, err := repo.Obslog(rev)
			if err != nil {
				return err
			}
			for _, e := range entries {
				marker := " "
				if e.Current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, styleCommitID.Render(shortID(e.CommitID)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rev, "revision", "r", "@", "change to inspect")
	return cmd
}
