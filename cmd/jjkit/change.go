package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Commands that mutate the change graph.

func newDescribeCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "describe [revset]",
		Short: "Set the description of a change (default @)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			rev := "@"
			if len(args) == 1 {
				rev = args[0]
			}
			op, err := repo.Describe(cmd.Context(), rev, message)
			if err != nil {
				return err
			}
			if op == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing changed.")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "the description to set")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newNewCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "new [parent revsets...]",
		Short: "Create a new change and move the working copy onto it",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			id, _, err := repo.NewChange(cmd.Context(), args, message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Working copy now at %s\n", shortID(id))
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "description for the new change")
	return cmd
}

func newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <revset>",
		Short: "Move the working copy onto an existing change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			if _, err := repo.Edit(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Working copy now at %s\n", shortID(repo.WorkingCopyID()))
			return nil
		},
	}
}

func newAbandonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <revset>",
		Short: "Abandon a change, rebasing its descendants onto its parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.Abandon(cmd.Context(), args[0])
			return err
		},
	}
}

func newRebaseCmd() *cobra.Command {
	var source, destination string
	cmd := &cobra.Command{
		Use:   "rebase -s <revset> -d <revset>",
		Short: "Move a change (and its descendants) onto a new parent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.Rebase(cmd.Context(), source, destination)
			return err
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "@", "change to move")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "new parent")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newMergeCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "merge <revset> <revset>...",
		Short: "Create a merge change across two or more sources",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			result, _, err := repo.Merge(cmd.Context(), args, message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created merge %s\n", shortID(result.ChangeID))
			if result.HasConflicts {
				fmt.Fprintf(cmd.OutOrStdout(), "%d conflicts recorded; run `jjkit resolve` to settle them\n", len(result.ConflictIDs))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "description for the merge change")
	return cmd
}

func newSquashCmd() *cobra.Command {
	var into string
	cmd := &cobra.Command{
		Use:   "squash [revset]",
		Short: "Fold a change (default @) into another (default its parent)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			from := "@"
			if len(args) == 1 {
				from = args[0]
			}
			dest := into
			if dest == "" {
				dest = from + "-"
			}
			_, err = repo.Squash(cmd.Context(), from, dest)
			return err
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "destination change (default the source's parent)")
	return cmd
}

func newSplitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split <path>...",
		Short: "Split the working-copy change by path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			first, _, err := repo.Split(cmd.Context(), "@", args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Split off %s with %s\n", shortID(first), strings.Join(args, ", "))
			return nil
		},
	}
	return cmd
}

func newDuplicateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate [revset]",
		Short: "Copy a change under a fresh change id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			rev := "@"
			if len(args) == 1 {
				rev = args[0]
			}
			id, _, err := repo.Duplicate(cmd.Context(), rev)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Duplicated as %s\n", shortID(id))
			return nil
		},
	}
}

func newParallelizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parallelize <revset>...",
		Short: "Re-parent a linear run of changes into siblings",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.Parallelize(cmd.Context(), args)
			return err
		},
	}
}

func newRestoreCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "restore <path>...",
		Short: "Restore paths in the working copy from another change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.RestorePaths(cmd.Context(), from, args)
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "@-", "change to restore from")
	return cmd
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
