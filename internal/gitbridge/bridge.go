// Package gitbridge projects changes into Git commits and reconciles
// refs with bookmarks, using go-git as the object store.
//
// Projection rules: every change with a non-empty tree becomes a commit
// whose author/committer come from the change, whose tree is built from
// the change's path-to-blob map, and whose message carries the change ID
// in a Change-Id trailer. A ref under refs/jj/change/ gives fast
// reverse lookup from abbreviated change IDs. Rewrites produce new
// commits; old ones stay reachable through the evolution list only.
package gitbridge

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/jjerr"
)

// TrailerKey is the commit-message trailer carrying the change ID.
const TrailerKey = "Change-Id"

const changeRefPrefix = "refs/jj/change/"

// Bridge wraps one Git repository.
type Bridge struct {
	repo *git.Repository
}

// Init creates a new Git repository at path.
func Init(path string) (*Bridge, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to init git repository", err).With("path", path)
	}
	return &Bridge{repo: repo}, nil
}

// Open opens an existing Git repository at path.
func Open(path string) (*Bridge, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to open git repository", err).With("path", path)
	}
	return &Bridge{repo: repo}, nil
}

// NewInMemory creates a bridge over an in-memory repository, used by
// tests and throwaway engines.
func NewInMemory() (*Bridge, error) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		return nil, fmt.Errorf("failed to init in-memory repository: %w", err)
	}
	return &Bridge{repo: repo}, nil
}

// Repo exposes the underlying repository for fetch/push delegation.
func (b *Bridge) Repo() *git.Repository {
	return b.repo
}

// PutBlob writes content as a Git blob and returns its hash. Satisfies
// the working copy's BlobStore.
func (b *Bridge) PutBlob(content []byte) (string, error) {
	obj := b.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return "", jjerr.Wrap(jjerr.StorageError, "failed to open blob writer", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return "", jjerr.Wrap(jjerr.StorageError, "failed to write blob", err)
	}
	if err := w.Close(); err != nil {
		return "", jjerr.Wrap(jjerr.StorageError, "failed to close blob writer", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", jjerr.Wrap(jjerr.StorageError, "failed to store blob", err)
	}
	return hash.String(), nil
}

// GetBlob reads a blob's content by hash.
func (b *Bridge) GetBlob(id string) ([]byte, error) {
	blob, err := b.repo.BlobObject(plumbing.NewHash(id))
	if err != nil {
		return nil, jjerr.Wrap(jjerr.NotFound, fmt.Sprintf("no such blob %s", id), err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to open blob reader", err)
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to read blob", err)
	}
	return content, nil
}

// BlobReader returns a pull-based reader over a blob so large file
// contents stream instead of loading whole.
func (b *Bridge) BlobReader(id string) (io.ReadCloser, error) {
	blob, err := b.repo.BlobObject(plumbing.NewHash(id))
	if err != nil {
		return nil, jjerr.Wrap(jjerr.NotFound, fmt.Sprintf("no such blob %s", id), err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to open blob reader", err)
	}
	return r, nil
}

// WriteTree builds nested Git tree objects from a flat path-to-blob map
// and returns the root tree hash.
func (b *Bridge) WriteTree(tree map[string]string) (string, error) {
	hash, err := b.writeTreeLevel(splitTree(tree))
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// treeNode is one directory level during tree construction.
type treeNode struct {
	files map[string]string
	dirs  map[string]*treeNode
}

func splitTree(flat map[string]string) *treeNode {
	root := &treeNode{files: map[string]string{}, dirs: map[string]*treeNode{}}
	for p, blob := range flat {
		node := root
		segments := strings.Split(p, "/")
		for _, dir := range segments[:len(segments)-1] {
			child, ok := node.dirs[dir]
			if !ok {
				child = &treeNode{files: map[string]string{}, dirs: map[string]*treeNode{}}
				node.dirs[dir] = child
			}
			node = child
		}
		node.files[segments[len(segments)-1]] = blob
	}
	return root
}

func (b *Bridge) writeTreeLevel(node *treeNode) (plumbing.Hash, error) {
	var entries []object.TreeEntry
	for name, blob := range node.files {
		entries = append(entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Regular,
			Hash: plumbing.NewHash(blob),
		})
	}
	for name, child := range node.dirs {
		hash, err := b.writeTreeLevel(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Dir,
			Hash: hash,
		})
	}
	// Git sorts tree entries by name with directories compared as
	// name plus a trailing slash.
	sort.Slice(entries, func(i, j int) bool {
		return treeEntryName(entries[i]) < treeEntryName(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := b.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, jjerr.Wrap(jjerr.StorageError, "failed to encode tree", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, jjerr.Wrap(jjerr.StorageError, "failed to store tree", err)
	}
	return hash, nil
}

func treeEntryName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// ReadTree flattens a Git tree back into a path-to-blob map.
func (b *Bridge) ReadTree(treeHash string) (map[string]string, error) {
	tree, err := b.repo.TreeObject(plumbing.NewHash(treeHash))
	if err != nil {
		return nil, jjerr.Wrap(jjerr.NotFound, fmt.Sprintf("no such tree %s", treeHash), err)
	}
	out := make(map[string]string)
	iter := tree.Files()
	defer iter.Close()
	for {
		f, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, jjerr.Wrap(jjerr.StorageError, "failed to walk tree", err)
		}
		out[f.Name] = f.Blob.Hash.String()
	}
	return out, nil
}

// ProjectChange materialises a change as a Git commit. parentCommits
// are the commit IDs of the change's parents in order; changes with an
// empty tree and no parents (the root) are not projected.
func (b *Bridge) ProjectChange(c *graph.Change, parentCommits []string) (string, error) {
	treeHash, err := b.WriteTree(c.Tree)
	if err != nil {
		return "", err
	}

	var parents []plumbing.Hash
	for _, p := range parentCommits {
		if p == "" {
			continue
		}
		parents = append(parents, plumbing.NewHash(p))
	}

	commitID, err := b.writeCommit(&object.Commit{
		Author:       toGitSignature(c.Author),
		Committer:    toGitSignature(c.Committer),
		Message:      messageWithTrailer(c.Description, c.ChangeID),
		TreeHash:     plumbing.NewHash(treeHash),
		ParentHashes: parents,
	})
	if err != nil {
		return "", err
	}

	// Reverse-lookup ref for the abbreviated change ID.
	refName := plumbing.ReferenceName(changeRefPrefix + ids.Short(c.ChangeID))
	if err := b.repo.Storer.SetReference(plumbing.NewHashReference(refName, plumbing.NewHash(commitID))); err != nil {
		return "", jjerr.Wrap(jjerr.StorageError, "failed to update change ref", err)
	}
	return commitID, nil
}

func (b *Bridge) writeCommit(commit *object.Commit) (string, error) {
	obj := b.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", jjerr.Wrap(jjerr.StorageError, "failed to encode commit", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", jjerr.Wrap(jjerr.StorageError, "failed to store commit", err)
	}
	return hash.String(), nil
}

// rawCommit writes a commit with an arbitrary message, used when
// reconstructing foreign history.
func (b *Bridge) rawCommit(message, treeHash string, parentCommits []string) (string, error) {
	var parents []plumbing.Hash
	for _, p := range parentCommits {
		parents = append(parents, plumbing.NewHash(p))
	}
	now := object.Signature{Name: "jjkit", Email: "jjkit@localhost", When: time.Unix(0, 0).UTC()}
	return b.writeCommit(&object.Commit{
		Author:       now,
		Committer:    now,
		Message:      message,
		TreeHash:     plumbing.NewHash(treeHash),
		ParentHashes: parents,
	})
}

// CommitInfo is the decoded view of a projected commit.
type CommitInfo struct {
	CommitID    string
	ChangeID    string
	Description string
	Parents     []string
	TreeHash    string
	Author      graph.Signature
	Committer   graph.Signature
}

// ReadCommit decodes a commit, splitting the Change-Id trailer off the
// message.
func (b *Bridge) ReadCommit(commitID string) (*CommitInfo, error) {
	commit, err := b.repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, jjerr.Wrap(jjerr.NotFound, fmt.Sprintf("no such commit %s", commitID), err)
	}

	description, changeID := splitTrailer(commit.Message)
	info := &CommitInfo{
		CommitID:    commitID,
		ChangeID:    changeID,
		Description: description,
		TreeHash:    commit.TreeHash.String(),
		Author:      fromGitSignature(commit.Author),
		Committer:   fromGitSignature(commit.Committer),
	}
	for _, p := range commit.ParentHashes {
		info.Parents = append(info.Parents, p.String())
	}
	return info, nil
}

// ResolveRef returns the commit a ref points at.
func (b *Bridge) ResolveRef(name string) (string, error) {
	ref, err := b.repo.Reference(plumbing.ReferenceName(name), true)
	if err != nil {
		return "", jjerr.Wrap(jjerr.NotFound, fmt.Sprintf("no such ref %s", name), err)
	}
	return ref.Hash().String(), nil
}

// UpdateRef points a ref at a commit, creating it if needed.
func (b *Bridge) UpdateRef(name, commitID string) error {
	ref := plumbing.NewHashReference(plumbing.ReferenceName(name), plumbing.NewHash(commitID))
	if err := b.repo.Storer.SetReference(ref); err != nil {
		return jjerr.Wrap(jjerr.StorageError, fmt.Sprintf("failed to update ref %s", name), err)
	}
	return nil
}

// DeleteRef removes a ref.
func (b *Bridge) DeleteRef(name string) error {
	if err := b.repo.Storer.RemoveReference(plumbing.ReferenceName(name)); err != nil {
		return jjerr.Wrap(jjerr.StorageError, fmt.Sprintf("failed to delete ref %s", name), err)
	}
	return nil
}

// ListRefs returns refs with the given prefix mapped to commit IDs.
func (b *Bridge) ListRefs(prefix string) (map[string]string, error) {
	iter, err := b.repo.References()
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to list refs", err)
	}
	defer iter.Close()

	out := make(map[string]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name().String()
		if strings.HasPrefix(name, prefix) {
			out[name] = ref.Hash().String()
		}
		return nil
	})
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to walk refs", err)
	}
	return out, nil
}

func toGitSignature(s graph.Signature) object.Signature {
	return object.Signature{
		Name:  s.Name,
		Email: s.Email,
		When:  time.UnixMilli(s.Timestamp).UTC(),
	}
}

func fromGitSignature(s object.Signature) graph.Signature {
	return graph.Signature{
		Name:      s.Name,
		Email:     s.Email,
		Timestamp: s.When.UnixMilli(),
	}
}

// messageWithTrailer appends the Change-Id trailer as the last line,
// blank-line separated from the description.
func messageWithTrailer(description, changeID string) string {
	msg := strings.TrimRight(description, "\n")
	if msg == "" {
		return fmt.Sprintf("\n%s: %s\n", TrailerKey, changeID)
	}
	return fmt.Sprintf("%s\n\n%s: %s\n", msg, TrailerKey, changeID)
}

// splitTrailer separates the description from the Change-Id trailer.
// Returns an empty change ID when no valid trailer is present.
func splitTrailer(message string) (string, string) {
	trimmed := strings.TrimRight(message, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 {
		return message, ""
	}
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, TrailerKey+": ") {
		return strings.TrimRight(message, "\n"), ""
	}
	changeID := strings.TrimSpace(strings.TrimPrefix(last, TrailerKey+": "))
	desc := strings.Join(lines[:len(lines)-1], "\n")
	desc = strings.TrimRight(desc, "\n")
	return desc, changeID
}
