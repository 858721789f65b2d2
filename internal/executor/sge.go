package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// SGE implements Scheduler for Sun/Son of Grid Engine.
type SGE struct{}

func (SGE) DirectiveToken() string { return "#$" }

func (SGE) RenderDirectives(d Directives) []string {
	lines := []string{
		fmt.Sprintf("-wd %s", d.WorkDir),
		fmt.Sprintf("-N %s", jobNameToken(d.Name)),
		fmt.Sprintf("-o %s/.command.log", d.WorkDir),
		"-j y",
	}
	if d.Cpus > 0 {
		lines = append(lines, fmt.Sprintf("-pe smp %d", d.Cpus))
	}
	if d.Time != "" {
		if wt, err := parseWalltime(d.Time); err == nil {
			lines = append(lines, fmt.Sprintf("-l h_rt=%s", wt))
		}
	}
	if d.Memory != "" {
		if mb, err := parseMemoryMB(d.Memory); err == nil {
			lines = append(lines, fmt.Sprintf("-l h_vmem=%dM", mb))
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

func (SGE) SubmitCommand(scriptPath string) []string {
	return []string{"qsub", scriptPath}
}

var sgeJobIDRe = regexp.MustCompile(`Your job (\d+)`)

func (SGE) ParseJobID(stdout string) (string, error) {
	m := sgeJobIDRe.FindStringSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("sge: could not parse job id from %q", stdout)
	}
	return m[1], nil
}

func (SGE) StatusCommand(user string) []string {
	return []string{"qstat", "-u", user}
}

var sgeStatusMap = map[string]Status{
	"qw": StatusPending,
	"hqw": StatusHold,
	"r":  StatusRunning,
	"t":  StatusRunning,
	"Eqw": StatusError,
	"dr": StatusRunning,
}

func (SGE) ParseStatus(line string, jobID string) (Status, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != jobID {
		return "", false
	}
	st, ok := sgeStatusMap[fields[4]]
	if !ok {
		return StatusError, true
	}
	return st, true
}

func (SGE) KillCommand(jobID string) []string {
	return []string{"qdel", jobID}
}
