package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// Slurm implements Scheduler for the Slurm workload manager.
type Slurm struct{}

func (Slurm) DirectiveToken() string { return "#SBATCH" }

func (Slurm) RenderDirectives(d Directives) []string {
	lines := []string{
		fmt.Sprintf("-D %s", d.WorkDir),
		fmt.Sprintf("-J %s", jobNameToken(d.Name)),
		fmt.Sprintf("-o %s/.command.log", d.WorkDir),
	}
	if d.Cpus > 0 {
		lines = append(lines, fmt.Sprintf("-c %d", d.Cpus))
	}
	if d.Time != "" {
		if wt, err := parseWalltime(d.Time); err == nil {
			lines = append(lines, fmt.Sprintf("-t %s", wt))
		}
	}
	if d.Memory != "" {
		if mb, err := parseMemoryMB(d.Memory); err == nil {
			lines = append(lines, fmt.Sprintf("--mem %d", mb))
		}
	}
	if d.ClusterOptions != "" {
		lines = append(lines, d.ClusterOptions)
	}
	return lines
}

func (Slurm) SubmitCommand(scriptPath string) []string {
	return []string{"sbatch", scriptPath}
}

var slurmJobIDRe = regexp.MustCompile(`Submitted batch job (\d+)`)

func (Slurm) ParseJobID(stdout string) (string, error) {
	m := slurmJobIDRe.FindStringSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("slurm: could not parse job id from %q", stdout)
	}
	return m[1], nil
}

func (Slurm) StatusCommand(user string) []string {
	return []string{"squeue", "-h", "-o", "%i %t", "-t", "all", "-u", user}
}

// slurmStatusMap maps Slurm's single-letter job states to the common enum.
var slurmStatusMap = map[string]Status{
	"PD": StatusPending,
	"R":  StatusRunning,
	"CG": StatusRunning,
	"CD": StatusDone,
	"CA": StatusError,
	"F":  StatusError,
	"TO": StatusError,
	"NF": StatusError,
	"S":  StatusHold,
}

func (Slurm) ParseStatus(line string, jobID string) (Status, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != jobID {
		return "", false
	}
	st, ok := slurmStatusMap[fields[1]]
	if !ok {
		return StatusError, true
	}
	return st, true
}

func (Slurm) KillCommand(jobID string) []string {
	return []string{"scancel", jobID}
}
