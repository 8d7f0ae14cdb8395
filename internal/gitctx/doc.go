// Package gitctx reads repository state from git for changed-only runs.
//
// [ChangedFiles] lists the files that differ from a revision, including
// untracked files, as repository-relative slash paths, whatever the working
// directory. [ChangedSet] also holds each file's absolute path, so units named
// either way match. [HooksDir] resolves the hooks directory, worktrees included.
package gitctx
