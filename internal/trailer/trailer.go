// Package trailer writes and reads the commit-message trailers that tie a
// commit to the plan step it completes.
//
// A worker appends
//
//	Stepwise-Plan: plans/storage.yaml
//	Stepwise-Step: S1
//
// to the commit message. Reconciliation later walks the log oldest first
// and turns every tagged commit into an ir.LogEntry.
package trailer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strings"

	"github.com/roach88/stepwise/internal/ir"
)

const (
	PlanKey = "Stepwise-Plan"
	StepKey = "Stepwise-Step"
)

// Record and field separators used by LogFormat.
const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

// LogFormat is the git log --format string ParseLog understands: the full
// hash and the raw body, unit-separated, one record per commit.
const LogFormat = "%H%x1f%B%x1e"

// Format returns the trailer block for plan and step, newline-terminated.
func Format(plan, step string) string {
	return fmt.Sprintf("%s: %s\n%s: %s\n", PlanKey, NormalizePlan(plan), StepKey, step)
}

// NormalizePlan gives plan paths one spelling: forward slashes, cleaned,
// no leading "./".
func NormalizePlan(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// Tag is one (plan, step) pair found in a commit message.
type Tag struct {
	Plan string `json:"plan"`
	Step string `json:"step"`
}

// Parse extracts tags from the trailer paragraph of message, the last
// block of non-blank lines. Each Stepwise-Step line pairs with the most
// recent Stepwise-Plan line above it. Keys match case-insensitively.
func Parse(message string) []Tag {
	var tags []Tag
	plan := ""
	for _, line := range lastParagraph(message) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case strings.EqualFold(key, PlanKey):
			plan = NormalizePlan(value)
		case strings.EqualFold(key, StepKey):
			if plan != "" && value != "" {
				tags = append(tags, Tag{Plan: plan, Step: value})
			}
		}
	}
	return tags
}

func lastParagraph(message string) []string {
	lines := strings.Split(strings.ReplaceAll(message, "\r\n", "\n"), "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := end
	for start > 0 && strings.TrimSpace(lines[start-1]) != "" {
		start--
	}
	return lines[start:end]
}

// Commit is one log record.
type Commit struct {
	Hash    string
	Message string
}

// ParseLog splits output produced with LogFormat into commits, keeping
// their order.
func ParseLog(r io.Reader) ([]Commit, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(splitRecords)

	var commits []Commit
	for sc.Scan() {
		rec := strings.TrimLeft(sc.Text(), "\r\n")
		if strings.TrimSpace(rec) == "" {
			continue
		}
		hash, msg, ok := strings.Cut(rec, fieldSep)
		if !ok {
			return nil, fmt.Errorf("parse log: record %d has no field separator", len(commits)+1)
		}
		hash = strings.TrimSpace(hash)
		if hash == "" {
			return nil, fmt.Errorf("parse log: record %d has an empty hash", len(commits)+1)
		}
		commits = append(commits, Commit{Hash: hash, Message: msg})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse log: %w", err)
	}
	return commits, nil
}

func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, recordSep[0]); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Entries returns the (step, commit) pairs tagged for plan, in log order.
func Entries(commits []Commit, plan string) []ir.LogEntry {
	plan = NormalizePlan(plan)
	entries := []ir.LogEntry{}
	for _, c := range commits {
		for _, tag := range Parse(c.Message) {
			if tag.Plan == plan {
				entries = append(entries, ir.LogEntry{Step: tag.Step, Commit: c.Hash})
			}
		}
	}
	return entries
}

// ReadGitLog runs git log in dir, oldest commit first, and parses it.
func ReadGitLog(ctx context.Context, dir string) ([]Commit, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "log", "--reverse", "--format="+LogFormat)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("git log: %w", err)
		}
		return nil, fmt.Errorf("git log: %w: %s", err, msg)
	}
	return ParseLog(&stdout)
}
