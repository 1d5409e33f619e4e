package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jjkit/jjkit/internal/conflict"
)

// Operation-log, bookmark, conflict, workspace and Git commands.

func newOpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "op",
		Short: "Operate on the operation log",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "List recorded operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			for _, op := range repo.OperationLog() {
				ts := time.UnixMilli(op.Timestamp).UTC().Format("2006-01-02 15:04:05")
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n",
					styleChangeID.Render(shortID(op.ID)), styleTimestamp.Render(ts), op.User, op.Description)
			}
			return nil
		},
	})

	var undoCount int
	undoCmd := &cobra.Command{
		Use:   "undo",
		Short: "Walk the undo cursor back and restore the prior state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.Undo(cmd.Context(), undoCount)
			return err
		},
	}
	undoCmd.Flags().IntVarP(&undoCount, "count", "n", 1, "number of operations to undo")
	cmd.AddCommand(undoCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <operation>",
		Short: "Rebuild the repository state as of an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.RestoreOperation(cmd.Context(), args[0])
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revert <operation>",
		Short: "Record a new operation inverting a single target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.RevertOperation(cmd.Context(), args[0])
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "abandon <operation>",
		Short: "Remove an operation record, relinking its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			return repo.AbandonOperation(cmd.Context(), args[0])
		},
	})

	return cmd
}

func newBookmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bookmark",
		Aliases: []string{"b"},
		Short:   "Manage bookmarks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List bookmarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			for _, b := range repo.Bookmarks() {
				name := b.Name
				if b.Remote != "" {
					name = b.Name + "@" + b.Remote
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", styleBookmark.Render(name), shortID(b.Target))
			}
			return nil
		},
	})

	var rev string
	setCmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or move a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.BookmarkSet(cmd.Context(), args[0], rev)
			return err
		},
	}
	setCmd.Flags().StringVarP(&rev, "revision", "r", "@", "target change")
	cmd.AddCommand(setCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.BookmarkDelete(cmd.Context(), args[0])
			return err
		},
	})

	return cmd
}

func newResolveCmd() *cobra.Command {
	var strategy string
	var listOnly bool
	cmd := &cobra.Command{
		Use:   "resolve [conflict-id]",
		Short: "List or resolve conflicts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			if listOnly || len(args) == 0 {
				for _, c := range repo.Conflicts() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) in %s\n",
						styleConflict.Render(shortID(c.ID)), c.Path, c.Type, shortID(c.ChangeID))
				}
				return nil
			}
			_, err = repo.Resolve(cmd.Context(), args[0], conflict.Strategy(strategy), nil)
			return err
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "ours", "resolution strategy: ours, theirs or union")
	cmd.Flags().BoolVarP(&listOnly, "list", "l", false, "only list conflicts")
	return cmd
}

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			names, err := repo.Workspaces()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.NewWorkspace(cmd.Context(), args[0])
			return err
		},
	})

	return cmd
}

func newGitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git",
		Short: "Reconcile with the Git half of the repository",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Import Git refs into changes and bookmarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.Import(cmd.Context())
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Export bookmarks to Git refs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.Export(cmd.Context())
			return err
		},
	})

	var remote string
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch from a remote and import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			_, err = repo.Fetch(cmd.Context(), remote)
			return err
		},
	}
	fetchCmd.Flags().StringVar(&remote, "remote", "origin", "remote name")
	cmd.AddCommand(fetchCmd)

	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Export bookmarks and push to a remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			return repo.Push(cmd.Context(), remote)
		},
	}
	pushCmd.Flags().StringVar(&remote, "remote", "origin", "remote name")
	cmd.AddCommand(pushCmd)

	return cmd
}
