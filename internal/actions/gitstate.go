package actions

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultStateBranch is the orphan branch credit state lives on.
const DefaultStateBranch = "meritgate-state"

// InitStateBranch creates an orphan branch holding the initial state files
// and pushes it. The repository at repoDir must have a configured remote.
func InitStateBranch(repoDir, branch string) error {
	if branch == "" {
		branch = DefaultStateBranch
	}

	if _, err := git(repoDir, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		return fmt.Errorf("actions: branch %s already exists", branch)
	}

	steps := [][]string{
		{"checkout", "--orphan", branch},
		{"rm", "-rf", "--ignore-unmatch", "."},
	}
	for _, args := range steps {
		if _, err := git(repoDir, args...); err != nil {
			return err
		}
	}

	runner := NewRunner(repoDir, LoadLocalPolicy(repoDir, nil), nil)
	if err := runner.InitState(); err != nil {
		return err
	}

	commit := [][]string{
		{"add", "contributors.json", "events.json", "evaluations.json"},
		{"commit", "-m", "Initialize credit state"},
	}
	for _, args := range commit {
		if _, err := git(repoDir, args...); err != nil {
			return err
		}
	}
	return nil
}

func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("actions: git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
