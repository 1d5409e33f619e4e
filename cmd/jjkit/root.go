package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jjkit/jjkit/internal/engine"
	"github.com/jjkit/jjkit/internal/gitbridge"
)

var repoPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jjkit",
		Short:         "Change-centric version control on a Git store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&repoPath, "repository", "R", ".", "repository root")

	root.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newLogCmd(),
		newDescribeCmd(),
		newNewCmd(),
		newEditCmd(),
		newAbandonCmd(),
		newRebaseCmd(),
		newMergeCmd(),
		newSquashCmd(),
		newSplitCmd(),
		newDuplicateCmd(),
		newParallelizeCmd(),
		newRestoreCmd(),
		newDiffCmd(),
		newCatCmd(),
		newAnnotateCmd(),
		newObslogCmd(),
		newBookmarkCmd(),
		newResolveCmd(),
		newOpCmd(),
		newWorkspaceCmd(),
		newGitCmd(),
	)
	return root
}

// openRepo loads config, opens the repository at --repository, and
// wires the rotating log sink.
func openRepo() (*engine.Repo, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}
	cfg, err := engine.LoadConfig(abs)
	if err != nil {
		return nil, err
	}

	bridge, err := gitbridge.Open(abs)
	if err != nil {
		return nil, err
	}
	repo, err := engine.Open(afero.NewOsFs(), bridge, abs, cfg)
	if err != nil {
		return nil, err
	}
	repo.SetLogOutput(engineLogSink(abs, cfg))
	return repo, nil
}

// engineLogSink rotates the engine log under .jj so it never grows
// unbounded.
func engineLogSink(abs string, cfg engine.Config) *lumberjack.Logger {
	path := cfg.LogFile
	if path == "" {
		path = filepath.Join(abs, ".jj", "jjkit.log")
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 2,
		MaxAge:     30, // days
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialise a co-located repository (.git + .jj)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(repoPath)
			if err != nil {
				return err
			}
			cfg, err := engine.LoadConfig(abs)
			if err != nil {
				return err
			}
			if cfg.UserName == "" {
				cfg.UserName = os.Getenv("USER")
			}

			bridge, err := gitbridge.Init(abs)
			if err != nil {
				// Re-initialising over an existing .git is fine.
				bridge, err = gitbridge.Open(abs)
				if err != nil {
					return err
				}
			}
			repo, err := engine.Init(afero.NewOsFs(), bridge, abs, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()
			log.SetOutput(engineLogSink(abs, cfg))

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized repository in %s\n", abs)
			return nil
		},
	}
}
