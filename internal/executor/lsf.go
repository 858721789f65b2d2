package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// LSF implements Scheduler for IBM Platform LSF.
type LSF struct{}

func (LSF) DirectiveToken() string { return "#BSUB" }

func (LSF) RenderDirectives(d Directives) []string {
	lines := []string{
		fmt.Sprintf("-cwd %s", d.WorkDir),
		fmt.Sprintf("-J %s", jobNameToken(d.Name)),
		fmt.Sprintf("-o %s/.command.log", d.WorkDir),
	}
	if d.Cpus > 0 {
		lines = append(lines, fmt.Sprintf("-n %d", d.Cpus))
	}
	if d.Time != "" {
		if wt, err := parseWalltime(d.Time); err == nil {
			// LSF wants minutes for -W.
			h, m := 0, 0
			fmt.Sscanf(wt, "%d:%d", &h, &m)
			lines = append(lines, fmt.Sprintf("-W %d", h*60+m))
		}
	}
	if d.Memory != "" {
		if mb, err := parseMemoryMB(d.Memory); err == nil {
			lines = append(lines, fmt.Sprintf("-M %d", mb))
		}
	}
	if d.Queue != "" {
		lines = append(lines, fmt.Sprintf("-q %s", d.Queue))
	}
	if d.ClusterOptions != "" {
		lines = append(lines, d.ClusterOptions)
	}
	return lines
}

func (LSF) SubmitCommand(scriptPath string) []string {
	return []string{"bsub", "<", scriptPath}
}

var lsfJobIDRe = regexp.MustCompile(`Job <(\d+)>`)

func (LSF) ParseJobID(stdout string) (string, error) {
	m := lsfJobIDRe.FindStringSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("lsf: could not parse job id from %q", stdout)
	}
	return m[1], nil
}

func (LSF) StatusCommand(user string) []string {
	return []string{"bjobs", "-u", user, "-noheader"}
}

var lsfStatusMap = map[string]Status{
	"PEND":  StatusPending,
	"RUN":   StatusRunning,
	"DONE":  StatusDone,
	"EXIT":  StatusError,
	"PSUSP": StatusHold,
	"USUSP": StatusHold,
	"SSUSP": StatusHold,
}

func (LSF) ParseStatus(line string, jobID string) (Status, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != jobID {
		return "", false
	}
	st, ok := lsfStatusMap[fields[2]]
	if !ok {
		return StatusError, true
	}
	return st, true
}

func (LSF) KillCommand(jobID string) []string {
	return []string{"bkill", jobID}
}
