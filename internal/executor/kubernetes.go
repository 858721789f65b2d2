package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"
)

// k8sJob mirrors the subset of a batch/v1 Job manifest this package needs to
// render. Field order matches the yaml tags, not Go convention, so the
// emitted document reads the way a hand-written manifest would.
type k8sJob struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   k8sMetadata  `yaml:"metadata"`
	Spec       k8sJobSpec   `yaml:"spec"`
}

type k8sMetadata struct {
	Name string `yaml:"name"`
}

type k8sJobSpec struct {
	Template k8sPodTemplate `yaml:"template"`
}

type k8sPodTemplate struct {
	Spec k8sPodSpec `yaml:"spec"`
}

type k8sPodSpec struct {
	Containers    []k8sContainer `yaml:"containers"`
	Volumes       []k8sVolume    `yaml:"volumes,omitempty"`
	RestartPolicy string         `yaml:"restartPolicy"`
}

type k8sContainer struct {
	Name         string             `yaml:"name"`
	Image        string             `yaml:"image"`
	Command      []string           `yaml:"command"`
	Resources    k8sResources       `yaml:"resources"`
	VolumeMounts []k8sVolumeMount   `yaml:"volumeMounts,omitempty"`
}

type k8sResources struct {
	Limits   map[string]string `yaml:"limits,omitempty"`
	Requests map[string]string `yaml:"requests,omitempty"`
}

type k8sVolume struct {
	Name     string           `yaml:"name"`
	HostPath k8sHostPathVol   `yaml:"hostPath"`
}

type k8sHostPathVol struct {
	Path string `yaml:"path"`
}

type k8sVolumeMount struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`
}

// KubernetesJobSpec is the input to RenderKubernetesJob: a task's directives
// plus the paths (inputs, bin dirs, the work directory itself) that must be
// visible inside the pod.
type KubernetesJobSpec struct {
	Directives
	Image string
	Paths []string
}

// RenderKubernetesJob renders d into a batch/v1 Job manifest: a single
// container running the job body under "sh -c", cpu/memory resources set
// identically as limits and requests, and one host-path volume per prefix
// ComputeVolumePrefixes derives from d.Paths.
func RenderKubernetesJob(d KubernetesJobSpec, body string) (string, error) {
	if d.Image == "" {
		return "", fmt.Errorf("kubernetes: image is required")
	}

	limits := map[string]string{}
	if d.Cpus > 0 {
		limits["cpu"] = fmt.Sprintf("%d", d.Cpus)
	}
	if d.Memory != "" {
		mb, err := parseMemoryMB(d.Memory)
		if err != nil {
			return "", fmt.Errorf("kubernetes: %w", err)
		}
		limits["memory"] = fmt.Sprintf("%dMi", mb)
	}
	requests := map[string]string{}
	for k, v := range limits {
		requests[k] = v
	}

	prefixes := ComputeVolumePrefixes(d.Paths)
	var volumes []k8sVolume
	var mounts []k8sVolumeMount
	for i, p := range prefixes {
		name := fmt.Sprintf("vol-%d", i)
		volumes = append(volumes, k8sVolume{Name: name, HostPath: k8sHostPathVol{Path: p}})
		mounts = append(mounts, k8sVolumeMount{Name: name, MountPath: p})
	}

	job := k8sJob{
		APIVersion: "batch/v1",
		Kind:       "Job",
		Metadata:   k8sMetadata{Name: jobNameToken(d.Name)},
		Spec: k8sJobSpec{
			Template: k8sPodTemplate{
				Spec: k8sPodSpec{
					RestartPolicy: "Never",
					Containers: []k8sContainer{
						{
							Name:         jobNameToken(d.Name),
							Image:        d.Image,
							Command:      []string{"sh", "-c", strings.TrimSuffix(body, "\n")},
							Resources:    k8sResources{Limits: limits, Requests: requests},
							VolumeMounts: mounts,
						},
					},
					Volumes: volumes,
				},
			},
		},
	}

	out, err := yaml.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("kubernetes: rendering manifest: %w", err)
	}
	return string(out), nil
}

// KubernetesExecutor submits tasks as batch/v1 Jobs via kubectl, the same
// shell-out style GridExecutor uses for Slurm/SGE/LSF/PBS.
type KubernetesExecutor struct {
	Namespace string
	Image     string
	Run       func(ctx context.Context, stdin string, argv ...string) (stdout string, err error)
}

func (k *KubernetesExecutor) Submit(ctx context.Context, d Directives, body string) (Handle, error) {
	manifest, err := RenderKubernetesJob(KubernetesJobSpec{Directives: d, Image: k.Image, Paths: []string{d.WorkDir}}, body)
	if err != nil {
		return Handle{}, fmt.Errorf("kubernetes executor: %w", err)
	}
	if _, err := k.run(ctx, manifest, "kubectl", "-n", k.Namespace, "apply", "-f", "-"); err != nil {
		return Handle{}, fmt.Errorf("kubernetes executor: apply: %w", err)
	}
	return Handle{JobID: jobNameToken(d.Name)}, nil
}

func (k *KubernetesExecutor) Poll(ctx context.Context, h Handle) (Status, error) {
	out, err := k.run(ctx, "", "kubectl", "-n", k.Namespace, "get", "job", h.JobID,
		"-o", "jsonpath={.status.succeeded}:{.status.failed}:{.status.active}")
	if err != nil {
		return "", fmt.Errorf("kubernetes executor: get job: %w", err)
	}
	fields := strings.SplitN(strings.TrimSpace(out), ":", 3)
	if len(fields) != 3 {
		return StatusPending, nil
	}
	switch {
	case fields[0] == "1":
		return StatusDone, nil
	case fields[1] == "1":
		return StatusError, nil
	case fields[2] == "1":
		return StatusRunning, nil
	default:
		return StatusPending, nil
	}
}

func (k *KubernetesExecutor) Kill(ctx context.Context, h Handle) error {
	_, err := k.run(ctx, "", "kubectl", "-n", k.Namespace, "delete", "job", h.JobID, "--ignore-not-found")
	return err
}

func (k *KubernetesExecutor) run(ctx context.Context, stdin string, argv ...string) (string, error) {
	if k.Run != nil {
		return k.Run(ctx, stdin, argv...)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}
