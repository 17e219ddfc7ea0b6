package docker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/stackctl/internal/core/plan"
	"github.com/artpar/stackctl/internal/core/status"
	"github.com/artpar/stackctl/internal/core/topology"
)

// =============================================================================
// Applier - Executes Resolved Topologies Against the Engine
// =============================================================================

// Applier brings a resolved topology up on a Docker engine: networks and
// volumes first, then containers in dependency start order. Teardown runs in
// the reverse direction.
type Applier struct {
	docker  Client
	logger  *slog.Logger
	workDir string // base directory for resolving relative env_file paths
}

// NewApplier creates a new applier.
func NewApplier(docker Client, logger *slog.Logger, workDir string) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	if workDir == "" {
		workDir = "."
	}
	return &Applier{
		docker:  docker,
		logger:  logger,
		workDir: workDir,
	}
}

// ApplyOptions control an apply run.
type ApplyOptions struct {
	Variables map[string]string
	Pull      bool // pull images even when present locally
}

// AppliedService describes one container the applier created or reused.
type AppliedService struct {
	Service     string
	ContainerID string
	State       string
}

// =============================================================================
// Apply
// =============================================================================

// Apply creates the environment's networks and volumes, then creates and
// starts a container per resolved service, in start order. Existing
// containers carrying the environment label are reused rather than recreated.
func (a *Applier) Apply(ctx context.Context, env *topology.Environment, res *topology.Resolution, opts ApplyOptions) ([]AppliedService, error) {
	a.logger.Info("applying environment",
		"environment", env.Name,
		"services", len(res.Services),
		"profiles", res.Profiles,
	)

	externalNetworks := make(map[string]bool)
	for _, n := range env.Networks {
		if n.External {
			externalNetworks[n.Name] = true
		}
	}
	externalVolumes := make(map[string]bool)
	for _, v := range env.Volumes {
		if v.External {
			externalVolumes[v.Name] = true
		}
	}

	if err := a.ensureNetworks(env, res); err != nil {
		return nil, err
	}
	if err := a.ensureVolumes(env, res); err != nil {
		return nil, err
	}
	a.pullImages(res, opts.Pull)

	// Existing containers (restart case), keyed by service label.
	existing, _ := a.docker.ListContainers(ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", plan.LabelEnvironment, env.Name)},
	})
	existingByService := make(map[string]ContainerInfo)
	for _, c := range existing {
		if svc, ok := c.Labels[plan.LabelService]; ok {
			existingByService[svc] = c
		}
	}

	var applied []AppliedService
	created := make(map[string]string) // service name → container ID

	for _, svc := range res.Services {
		containerPlan, err := plan.Build(plan.BuildParams{
			Environment:      env.Name,
			Service:          svc,
			Variables:        opts.Variables,
			DefaultNetwork:   "default",
			ExternalNetworks: externalNetworks,
			ExternalVolumes:  externalVolumes,
		})
		if err != nil {
			a.cleanupCreated(created)
			return nil, err
		}

		spec, err := a.toContainerSpec(containerPlan)
		if err != nil {
			a.cleanupCreated(created)
			return nil, err
		}

		var containerID string
		if c, found := existingByService[svc.Name]; found {
			containerID = c.ID
			a.logger.Debug("reusing container", "service", svc.Name, "container_id", shortID(containerID))
		} else {
			containerID, err = a.docker.CreateContainer(spec)
			if err != nil {
				a.cleanupCreated(created)
				return nil, fmt.Errorf("failed to create container for %s: %w", svc.Name, err)
			}
			created[svc.Name] = containerID
			a.logger.Debug("created container", "service", svc.Name, "container_id", shortID(containerID))
		}

		if err := a.docker.StartContainer(containerID); err != nil {
			if !strings.Contains(err.Error(), "already running") {
				a.cleanupCreated(created)
				return nil, fmt.Errorf("failed to start container for %s: %w", svc.Name, err)
			}
		}

		info, err := a.docker.InspectContainer(containerID)
		if err != nil {
			a.cleanupCreated(created)
			return nil, fmt.Errorf("failed to inspect container for %s: %w", svc.Name, err)
		}

		applied = append(applied, AppliedService{
			Service:     svc.Name,
			ContainerID: info.ID,
			State:       info.State,
		})
	}

	a.logger.Info("environment applied", "environment", env.Name, "containers", len(applied))
	return applied, nil
}

// =============================================================================
// Down
// =============================================================================

// Down stops and removes the environment's containers, then its networks, and
// optionally its named volumes. External resources are left alone.
func (a *Applier) Down(ctx context.Context, env *topology.Environment, removeVolumes bool) error {
	a.logger.Info("tearing down environment", "environment", env.Name)

	containers, err := a.docker.ListContainers(ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", plan.LabelEnvironment, env.Name)},
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	timeout := 10 * time.Second
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			if err := a.docker.StopContainer(c.ID, &timeout); err != nil {
				a.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
			}
		}
		if err := a.docker.RemoveContainer(c.ID, RemoveOptions{Force: true}); err != nil {
			a.logger.Warn("failed to remove container", "container_id", shortID(c.ID), "error", err)
		}
	}

	for _, n := range env.Networks {
		if n.External {
			continue
		}
		name := plan.NetworkName(env.Name, n.Name)
		if err := a.docker.RemoveNetwork(name); err != nil {
			a.logger.Warn("failed to remove network", "network", name, "error", err)
		}
	}

	if removeVolumes {
		for _, v := range env.Volumes {
			if v.External {
				continue
			}
			name := plan.VolumeName(env.Name, v.Name)
			if err := a.docker.RemoveVolume(name, false); err != nil {
				a.logger.Warn("failed to remove volume", "volume", name, "error", err)
			}
		}
	}

	a.logger.Info("environment torn down", "environment", env.Name, "containers_removed", len(containers))
	return nil
}

// =============================================================================
// Status
// =============================================================================

// Ping reports whether the container engine is reachable.
func (a *Applier) Ping(_ context.Context) error {
	return a.docker.Ping()
}

// Status observes the environment's containers and aggregates their health.
func (a *Applier) Status(ctx context.Context, environment string) (status.Health, []status.ServiceState, error) {
	containers, err := a.docker.ListContainers(ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", plan.LabelEnvironment, environment)},
	})
	if err != nil {
		return status.HealthUnknown, nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var states []status.ServiceState
	for _, c := range containers {
		service := c.Labels[plan.LabelService]
		if service == "" {
			service = c.Name
		}

		// The list endpoint has no health or restart data; inspect fills it.
		info, err := a.docker.InspectContainer(c.ID)
		if err != nil {
			states = append(states, status.ServiceState{Service: service, State: c.State})
			continue
		}

		states = append(states, status.ServiceState{
			Service:  service,
			State:    info.State,
			Health:   info.Health,
			Restarts: info.Restarts,
		})
	}

	return status.Aggregate(states), states, nil
}

// =============================================================================
// Logs
// =============================================================================

// ServiceLogs returns the recent log output of one service's container.
func (a *Applier) ServiceLogs(ctx context.Context, environment, service, tail string) (string, error) {
	name := plan.ContainerName(environment, service)
	reader, err := a.docker.ContainerLogs(name, LogOptions{Tail: tail, Timestamps: true})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	buf := make([]byte, 64*1024)
	n, _ := reader.Read(buf)
	return string(buf[:n]), nil
}

// =============================================================================
// Helpers
// =============================================================================

func (a *Applier) ensureNetworks(env *topology.Environment, res *topology.Resolution) error {
	needed := make(map[string]topology.Network)
	hasDefault := false
	for _, svc := range res.Services {
		if len(svc.Networks) == 0 {
			hasDefault = true
		}
		for name := range svc.Networks {
			for _, n := range env.Networks {
				if n.Name == name {
					needed[name] = n
				}
			}
		}
	}

	for name, n := range needed {
		if n.External {
			continue // assumed to pre-exist
		}
		a.createNetwork(env.Name, name, n.Driver)
	}
	if hasDefault {
		a.createNetwork(env.Name, "default", "")
	}
	return nil
}

func (a *Applier) createNetwork(environment, name, driver string) {
	full := plan.NetworkName(environment, name)
	_, err := a.docker.CreateNetwork(NetworkSpec{
		Name:   full,
		Driver: driver,
		Labels: map[string]string{
			plan.LabelManaged:     "true",
			plan.LabelEnvironment: environment,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			a.logger.Debug("network already exists, reusing", "network", full)
			return
		}
		a.logger.Warn("failed to create network", "network", full, "error", err)
		return
	}
	a.logger.Debug("created network", "network", full)
}

func (a *Applier) ensureVolumes(env *topology.Environment, res *topology.Resolution) error {
	needed := make(map[string]topology.Volume)
	for _, svc := range res.Services {
		for _, m := range svc.Volumes {
			if m.Type != topology.VolumeMountTypeVolume {
				continue
			}
			for _, v := range env.Volumes {
				if v.Name == m.Source {
					needed[v.Name] = v
				}
			}
		}
	}

	for name, v := range needed {
		if v.External {
			continue
		}
		full := plan.VolumeName(env.Name, name)
		_, err := a.docker.CreateVolume(VolumeSpec{
			Name:   full,
			Driver: v.Driver,
			Labels: map[string]string{
				plan.LabelManaged:     "true",
				plan.LabelEnvironment: env.Name,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				a.logger.Debug("volume already exists, reusing", "volume", full)
				continue
			}
			return fmt.Errorf("failed to create volume %s: %w", full, err)
		}
		a.logger.Debug("created volume", "volume", full)
	}
	return nil
}

func (a *Applier) pullImages(res *topology.Resolution, force bool) {
	for _, svc := range res.Services {
		if !force {
			if exists, _ := a.docker.ImageExists(svc.Image); exists {
				continue
			}
		}
		a.logger.Info("pulling image", "image", svc.Image)
		if err := a.docker.PullImage(svc.Image, PullOptions{}); err != nil {
			a.logger.Warn("failed to pull image, trying anyway", "image", svc.Image, "error", err)
		}
	}
}

// toContainerSpec converts a container plan to an engine spec, merging the
// service env file (if any) beneath the explicit environment entries.
func (a *Applier) toContainerSpec(p plan.ContainerPlan) (ContainerSpec, error) {
	env := make(map[string]string)
	if p.EnvFile != "" {
		fileEnv, err := readEnvFile(a.resolvePath(p.EnvFile))
		if err != nil {
			return ContainerSpec{}, fmt.Errorf("failed to read env file %s: %w", p.EnvFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for k, v := range p.Env {
		env[k] = v
	}

	spec := ContainerSpec{
		Name:           p.Name,
		Image:          p.Image,
		Command:        p.Command,
		Entrypoint:     p.Entrypoint,
		Env:            env,
		Labels:         p.Labels,
		NetworkAliases: p.Networks,
		RestartPolicy: RestartPolicy{
			Name:              p.RestartPolicy.Name,
			MaximumRetryCount: p.RestartPolicy.MaximumRetryCount,
		},
	}

	for _, port := range p.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: port.ContainerPort,
			HostPort:      port.HostPort,
			Protocol:      port.Protocol,
			HostIP:        port.HostIP,
		})
	}

	for _, v := range p.Volumes {
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Source:   a.resolveMountSource(v.Source),
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	return spec, nil
}

// resolvePath makes a relative topology path absolute against the work dir.
func (a *Applier) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.workDir, path)
}

// resolveMountSource absolutizes bind mount paths; named volumes pass through.
func (a *Applier) resolveMountSource(source string) string {
	if strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../") {
		abs, err := filepath.Abs(filepath.Join(a.workDir, source))
		if err != nil {
			return source
		}
		return abs
	}
	return source
}

func (a *Applier) cleanupCreated(containers map[string]string) {
	timeout := 5 * time.Second
	for name, id := range containers {
		_ = a.docker.StopContainer(id, &timeout)
		_ = a.docker.RemoveContainer(id, RemoveOptions{Force: true})
		a.logger.Debug("cleaned up container", "service", name, "container_id", shortID(id))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// readEnvFile parses a dotenv-style file: KEY=VALUE lines, # comments.
func readEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		env[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return env, scanner.Err()
}
