package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// PBS implements Scheduler for PBS/Torque.
type PBS struct{}

func (PBS) DirectiveToken() string { return "#PBS" }

func (PBS) RenderDirectives(d Directives) []string {
	lines := []string{
		fmt.Sprintf("-N %s", jobNameToken(d.Name)),
		fmt.Sprintf("-o %s/.command.log", d.WorkDir),
		"-j oe",
	}
	if d.Cpus > 0 {
		lines = append(lines, fmt.Sprintf("-l nodes=1:ppn=%d", d.Cpus))
	}
	if d.Time != "" {
		if wt, err := parseWalltime(d.Time); err == nil {
			lines = append(lines, fmt.Sprintf("-l walltime=%s", wt))
		}
	}
	if d.Memory != "" {
		if mb, err := parseMemoryMB(d.Memory); err == nil {
			lines = append(lines, fmt.Sprintf("-l mem=%dmb", mb))
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

func (PBS) SubmitCommand(scriptPath string) []string {
	return []string{"qsub", scriptPath}
}

var pbsJobIDRe = regexp.MustCompile(`^(\S+)`)

func (PBS) ParseJobID(stdout string) (string, error) {
	m := pbsJobIDRe.FindStringSubmatch(strings.TrimSpace(stdout))
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("pbs: could not parse job id from %q", stdout)
	}
	return m[1], nil
}

func (PBS) StatusCommand(user string) []string {
	return []string{"qstat", "-u", user}
}

var pbsStatusMap = map[string]Status{
	"Q": StatusPending,
	"R": StatusRunning,
	"C": StatusDone,
	"E": StatusRunning,
	"H": StatusHold,
}

func (PBS) ParseStatus(line string, jobID string) (Status, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 || !strings.HasPrefix(fields[0], jobID) {
		return "", false
	}
	st, ok := pbsStatusMap[fields[4]]
	if !ok {
		return StatusError, true
	}
	return st, true
}

func (PBS) KillCommand(jobID string) []string {
	return []string{"qdel", jobID}
}
