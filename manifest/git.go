package manifest

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Git frameworks are kept as shallow checkouts of one revision: only the
// class containers in its tree are read, never the history.

// git runs a git subcommand in dir and returns its trimmed standard output.
func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// cloneArgs returns the arguments of a depth-one clone of url into dest,
// at tag when one is pinned.
func cloneArgs(url, tag, dest string) []string {
	args := []string{"clone", "--quiet", "--depth", "1", "--no-tags"}
	if tag != "" {
		args = append(args, "--branch", tag)
	}
	return append(args, "--", url, dest)
}

// fetchArgs returns the arguments that bring the pinned tag, or the
// remote's default branch, into an existing shallow checkout.
func fetchArgs(tag string) []string {
	args := []string{"fetch", "--quiet", "--depth", "1", "--no-tags", "origin"}
	if tag != "" {
		args = append(args, "tag", tag)
	}
	return args
}

// checkoutRef returns the revision to check out after fetchArgs.
func checkoutRef(tag string) string {
	if tag == "" {
		return "FETCH_HEAD"
	}
	return "refs/tags/" + tag
}

// cloneFramework creates the checkout of a git framework. A failed clone
// leaves nothing behind, so the next run clones again.
func cloneFramework(name string, fw Framework, dest string) error {
	if _, err := git("", cloneArgs(fw.Git, fw.Tag, dest)...); err != nil {
		os.RemoveAll(dest)
		return fmt.Errorf("framework %q from %s: %w", name, fw.Git, err)
	}
	return nil
}

// updateFramework moves an existing checkout to the pinned revision.
func updateFramework(name string, fw Framework, dir string) error {
	if _, err := git(dir, fetchArgs(fw.Tag)...); err != nil {
		return fmt.Errorf("framework %q from %s: %w", name, fw.Git, err)
	}
	if _, err := git(dir, "checkout", "--quiet", "--detach", checkoutRef(fw.Tag)); err != nil {
		return fmt.Errorf("framework %q: %w", name, err)
	}
	return nil
}

// headCommit returns the commit a checkout is at.
func headCommit(dir string) (string, error) {
	return git(dir, "rev-parse", "HEAD")
}

// worktreeClean reports whether a checkout has no local changes.
func worktreeClean(dir string) (bool, error) {
	out, err := git(dir, "status", "--porcelain")
	return out == "", err
}
