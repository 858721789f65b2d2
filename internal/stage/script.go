package stage

import (
	"fmt"
	"strings"
)

// CopyMode selects the shell command used to unstage a declared output from
// a task's working directory into its publish destination.
type CopyMode string

const (
	CopyModeCopy  CopyMode = "copy"
	CopyModeMove  CopyMode = "move"
	CopyModeRsync CopyMode = "rsync"
)

// FileLink is one input file bound into a task's working directory: src is
// its resolved source path, target is the staged name it is linked under.
type FileLink struct {
	Src    string
	Target string
}

// EscapeShellWord backslash-escapes single quotes and whitespace, matching
// the quoting convention the stage/unstage scripts are rendered with.
func EscapeShellWord(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\'' || r == ' ' || r == '\t' || r == '\n':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RenderStageScript emits, for each link in binding order, `rm -f <target>`
// followed by `ln -s <src> <target>`.
func RenderStageScript(links []FileLink) string {
	var b strings.Builder
	for _, l := range links {
		target := EscapeShellWord(l.Target)
		src := EscapeShellWord(l.Src)
		fmt.Fprintf(&b, "rm -f %s\n", target)
		fmt.Fprintf(&b, "ln -s %s %s\n", src, target)
	}
	return b.String()
}

// RenderUnstageScript copies/moves/rsyncs each declared output from its
// working-directory path to its publish destination. Every line is prefixed
// by `mkdir -p <destDir>` and suffixed with `|| true` so a missing output in
// a failed task's working directory does not abort the unstage pass.
func RenderUnstageScript(mode CopyMode, links []FileLink) (string, error) {
	var cmd string
	switch mode {
	case CopyModeCopy:
		cmd = "cp -fR"
	case CopyModeMove:
		cmd = "mv -f"
	case CopyModeRsync:
		cmd = "rsync -rRl"
	default:
		return "", fmt.Errorf("stage: unknown copy mode %q", mode)
	}

	var b strings.Builder
	for _, l := range links {
		destDir := dirname(l.Target)
		fmt.Fprintf(&b, "mkdir -p %s\n", EscapeShellWord(destDir))
		fmt.Fprintf(&b, "%s %s %s || true\n", cmd, EscapeShellWord(l.Src), EscapeShellWord(l.Target))
	}
	return b.String(), nil
}

func dirname(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "."
	}
	return path[:idx]
}
