package gitbridge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"

	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/jjerr"
)

// ImportResult summarises one ref import.
type ImportResult struct {
	NewChanges       []string
	UpdatedBookmarks []string
	Warnings         []string
}

// Import scans refs/heads/* and refs/remotes/*/*, creates changes for
// commits the graph does not know, and synchronises bookmarks 1:1 with
// the refs. The trailer change ID is honoured when present and valid; a
// malformed trailer yields a fresh ID plus a warning. Imported
// committer timestamps are taken as-is.
func (b *Bridge) Import(g *graph.Graph, bookmarks *graph.BookmarkSet, newChangeID func() (string, error)) (*ImportResult, error) {
	result := &ImportResult{}

	heads, err := b.ListRefs("refs/heads/")
	if err != nil {
		return nil, err
	}
	remotes, err := b.ListRefs("refs/remotes/")
	if err != nil {
		return nil, err
	}

	// Reverse map: commit -> change, including historical commits.
	byCommit := make(map[string]string)
	for _, id := range g.All() {
		c, _ := g.Get(id)
		if c.CommitID != "" {
			byCommit[c.CommitID] = id
		}
		for _, old := range c.Evolution {
			byCommit[old] = id
		}
	}

	importTip := func(commitID string) (string, error) {
		return b.importCommit(commitID, g, byCommit, newChangeID, result)
	}

	// Local refs become local bookmarks.
	for _, refName := range sortedKeys(heads) {
		changeID, err := importTip(heads[refName])
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(refName, "refs/heads/")
		if _, err := bookmarks.Set(name, "", changeID, false); err != nil {
			return nil, err
		}
		result.UpdatedBookmarks = append(result.UpdatedBookmarks, name)
	}

	// Remote-tracking refs become tracked remote bookmarks.
	for _, refName := range sortedKeys(remotes) {
		rest := strings.TrimPrefix(refName, "refs/remotes/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[1] == "HEAD" {
			continue
		}
		changeID, err := importTip(remotes[refName])
		if err != nil {
			return nil, err
		}
		if _, err := bookmarks.Set(parts[1], parts[0], changeID, true); err != nil {
			return nil, err
		}
		result.UpdatedBookmarks = append(result.UpdatedBookmarks, parts[1]+"@"+parts[0])
	}

	return result, nil
}

// importCommit recursively imports a commit and its ancestry, returning
// the change ID the commit maps to.
func (b *Bridge) importCommit(commitID string, g *graph.Graph, byCommit map[string]string, newChangeID func() (string, error), result *ImportResult) (string, error) {
	if id, ok := byCommit[commitID]; ok {
		return id, nil
	}

	info, err := b.ReadCommit(commitID)
	if err != nil {
		return "", err
	}

	parents := make([]string, 0, len(info.Parents))
	for _, p := range info.Parents {
		parentChange, err := b.importCommit(p, g, byCommit, newChangeID, result)
		if err != nil {
			return "", err
		}
		parents = append(parents, parentChange)
	}
	if len(parents) == 0 {
		parents = []string{g.RootID()}
	}

	changeID := info.ChangeID
	switch {
	case changeID == "":
		changeID, err = newChangeID()
		if err != nil {
			return "", err
		}
	case len(changeID) != ids.HexLen || !ids.IsHex(changeID):
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("commit %s carries malformed change id %q; assigned a new one", ids.Short(commitID), changeID))
		changeID, err = newChangeID()
		if err != nil {
			return "", err
		}
	case g.Has(changeID):
		// The change already exists under a different commit (e.g. a
		// rewrite arrived through Git). Record the commit as the
		// change's new position.
		if err := g.SetCommit(changeID, commitID); err != nil {
			return "", err
		}
		byCommit[commitID] = changeID
		return changeID, nil
	}

	tree, err := b.ReadTree(info.TreeHash)
	if err != nil {
		return "", err
	}

	c := &graph.Change{
		ChangeID:    changeID,
		CommitID:    commitID,
		Parents:     parents,
		Description: info.Description,
		Author:      info.Author,
		Committer:   info.Committer,
		Tree:        tree,
	}
	if err := g.Attach(c); err != nil {
		return "", err
	}
	byCommit[commitID] = changeID
	result.NewChanges = append(result.NewChanges, changeID)
	return changeID, nil
}

// ExportResult summarises one bookmark export.
type ExportResult struct {
	Updated []string
	Removed []string
}

// Export writes refs/heads/<bookmark> for every local bookmark and
// removes refs for bookmarks that no longer exist. Bookmarks whose
// target has no projected commit are skipped.
func (b *Bridge) Export(g *graph.Graph, bookmarks *graph.BookmarkSet) (*ExportResult, error) {
	result := &ExportResult{}

	existing, err := b.ListRefs("refs/heads/")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool)
	for _, bm := range bookmarks.Locals() {
		c, err := g.Get(bm.Target)
		if err != nil {
			return nil, err
		}
		if c.CommitID == "" {
			continue
		}
		refName := "refs/heads/" + bm.Name
		wanted[refName] = true
		if existing[refName] != c.CommitID {
			if err := b.UpdateRef(refName, c.CommitID); err != nil {
				return nil, err
			}
			result.Updated = append(result.Updated, bm.Name)
		}
	}

	for refName := range existing {
		if !wanted[refName] {
			if err := b.DeleteRef(refName); err != nil {
				return nil, err
			}
			result.Removed = append(result.Removed, strings.TrimPrefix(refName, "refs/heads/"))
		}
	}

	sort.Strings(result.Updated)
	sort.Strings(result.Removed)
	return result, nil
}

// Fetch delegates to the Git library; callers run Import afterwards to
// reconcile.
func (b *Bridge) Fetch(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	err := b.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remote})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return jjerr.Wrap(jjerr.StorageError, fmt.Sprintf("failed to fetch from %s", remote), err)
	}
	return nil
}

// Push delegates to the Git library; callers run Export beforehand.
func (b *Bridge) Push(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	err := b.repo.PushContext(ctx, &git.PushOptions{RemoteName: remote})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return jjerr.Wrap(jjerr.StorageError, fmt.Sprintf("failed to push to %s", remote), err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
