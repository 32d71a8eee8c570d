package containerizer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/go-units"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"datastack/pkg/logging"
)

// DockerRuntime implements ContainerRuntime against the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a runtime talking to the local Docker daemon,
// honoring the standard DOCKER_HOST family of environment variables.
func NewDockerRuntime() (*DockerRuntime, error) {
	c, err := client.New(client.FromEnv)
	if err != nil {
		return nil, &RuntimeUnavailableError{Engine: "docker", Err: err}
	}
	return &DockerRuntime{client: c}, nil
}

func (d *DockerRuntime) Ping(ctx context.Context) error {
	// A cheap list is enough to prove the daemon is answering.
	_, err := d.client.ContainerList(ctx, client.ContainerListOptions{})
	if err != nil {
		return &RuntimeUnavailableError{Engine: "docker", Err: err}
	}
	return nil
}

func (d *DockerRuntime) EnsureNetwork(ctx context.Context, name string) error {
	_, err := d.client.NetworkInspect(ctx, name, client.NetworkInspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect network %q: %w", name, err)
	}

	_, err = d.client.NetworkCreate(ctx, name, client.NetworkCreateOptions{})
	if err != nil {
		// Created concurrently is fine; re-check instead of matching
		// on the error string.
		if _, ie := d.client.NetworkInspect(ctx, name, client.NetworkInspectOptions{}); ie == nil {
			return nil
		}
		return fmt.Errorf("create network %q: %w", name, err)
	}
	logging.Debug("containerizer", "Created network %s", name)
	return nil
}

func (d *DockerRuntime) EnsureVolume(ctx context.Context, name string) error {
	_, err := d.client.VolumeInspect(ctx, name, client.VolumeInspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect volume %q: %w", name, err)
	}

	_, err = d.client.VolumeCreate(ctx, client.VolumeCreateOptions{Name: name})
	if err != nil {
		if _, ie := d.client.VolumeInspect(ctx, name, client.VolumeInspectOptions{}); ie == nil {
			return nil
		}
		return fmt.Errorf("create volume %q: %w", name, err)
	}
	logging.Debug("containerizer", "Created volume %s", name)
	return nil
}

// EnsureImage pulls the image when the daemon does not have it yet. The
// pull only makes progress while the response stream is consumed.
func (d *DockerRuntime) EnsureImage(ctx context.Context, ref string) error {
	_, err := d.client.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %q: %w", ref, err)
	}

	logging.Info("containerizer", "Pulling image %s", ref)
	rc, err := d.client.ImagePull(ctx, ref, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	return nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	containerCfg, err := buildContainerConfig(cfg)
	if err != nil {
		return "", err
	}
	hostCfg, err := buildHostConfig(cfg)
	if err != nil {
		return "", err
	}

	var networkCfg *network.NetworkingConfig
	if cfg.Network != "" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				cfg.Network: {Aliases: cfg.Aliases},
			},
		}
	}

	created, err := d.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           containerCfg,
		HostConfig:       hostCfg,
		NetworkingConfig: networkCfg,
		Name:             cfg.Name,
	})
	if err != nil {
		return "", fmt.Errorf("create container %q: %w", cfg.Name, err)
	}

	if _, err := d.client.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container %q: %w", cfg.Name, err)
	}

	logging.Debug("containerizer", "Started container %s (%s)", cfg.Name, created.ID)
	return created.ID, nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, handle string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	_, err := d.client.ContainerStop(ctx, handle, client.ContainerStopOptions{
		Timeout: &seconds,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stop container %q: %w", handle, err)
	}
	return nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, handle string) error {
	_, err := d.client.ContainerRemove(ctx, handle, client.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %q: %w", handle, err)
	}
	return nil
}

func (d *DockerRuntime) InspectContainer(ctx context.Context, nameOrHandle string) (ContainerInfo, error) {
	inspect, err := d.client.ContainerInspect(ctx, nameOrHandle, client.ContainerInspectOptions{})
	if err != nil {
		return ContainerInfo{}, err
	}
	return infoFromInspect(inspect.Container), nil
}

func (d *DockerRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	filters := make(client.Filters)
	for k, v := range labels {
		filters.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	list, err := d.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: filters,
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(list.Items))
	for _, c := range list.Items {
		inspect, err := d.client.ContainerInspect(ctx, c.ID, client.ContainerInspectOptions{})
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue // removed between list and inspect
			}
			return nil, fmt.Errorf("inspect container %q: %w", c.ID, err)
		}
		infos = append(infos, infoFromInspect(inspect.Container))
	}
	return infos, nil
}

// Probe runs one health check attempt. cmd probes are delegated to the
// engine's native healthcheck and read back from container state; tcp
// and http probes run from the host against published ports.
func (d *DockerRuntime) Probe(ctx context.Context, handle string, check HealthCheck) (bool, error) {
	switch check.Protocol {
	case HealthCheckCmd:
		info, err := d.InspectContainer(ctx, handle)
		if err != nil {
			return false, err
		}
		if !info.Running {
			return false, nil
		}
		return info.Health == HealthHealthy, nil

	case HealthCheckTCP:
		conn, err := net.DialTimeout("tcp", check.Target, check.Timeout)
		if err != nil {
			return false, nil
		}
		conn.Close()
		return true, nil

	case HealthCheckHTTP:
		httpClient := &http.Client{Timeout: check.Timeout}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.Target, nil)
		if err != nil {
			return false, fmt.Errorf("build probe request for %q: %w", check.Target, err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return false, nil
		}
		defer resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300, nil

	default:
		return false, fmt.Errorf("unknown health check protocol %q", check.Protocol)
	}
}

func (d *DockerRuntime) ContainerLogs(ctx context.Context, handle string, follow bool) (io.ReadCloser, error) {
	rc, err := d.client.ContainerLogs(ctx, handle, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Since:      "0",
	})
	if err != nil {
		return nil, fmt.Errorf("logs for container %q: %w", handle, err)
	}
	return rc, nil
}

// IsNotFound reports whether err means the container, network, or volume
// does not exist.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

func infoFromInspect(c container.InspectResponse) ContainerInfo {
	info := ContainerInfo{
		ID:   c.ID,
		Name: strings.TrimPrefix(c.Name, "/"),
	}
	if c.Config != nil {
		info.Labels = c.Config.Labels
	}
	if c.State != nil {
		info.Running = c.State.Running
		info.Health = HealthNone
		if c.State.Health != nil {
			info.Health = HealthStatus(c.State.Health.Status)
		}
	}
	return info
}

func buildContainerConfig(cfg ContainerConfig) (*container.Config, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	exposed, _, err := portMappings(cfg.Ports)
	if err != nil {
		return nil, err
	}

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Env:          env,
		Labels:       cfg.Labels,
		ExposedPorts: exposed,
	}

	if cfg.HealthCheck != nil && cfg.HealthCheck.Protocol == HealthCheckCmd {
		containerCfg.Healthcheck = &container.HealthConfig{
			Test:     []string{"CMD-SHELL", cfg.HealthCheck.Target},
			Interval: cfg.HealthCheck.Interval,
			Timeout:  cfg.HealthCheck.Timeout,
			Retries:  cfg.HealthCheck.Retries,
		}
	}

	return containerCfg, nil
}

func buildHostConfig(cfg ContainerConfig) (*container.HostConfig, error) {
	_, bindings, err := portMappings(cfg.Ports)
	if err != nil {
		return nil, err
	}

	mounts, err := volumeMounts(cfg.Volumes)
	if err != nil {
		return nil, err
	}

	hostCfg := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: bindings,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	if cfg.Memory != "" {
		bytes, err := units.RAMInBytes(cfg.Memory)
		if err != nil {
			return nil, fmt.Errorf("parse memory limit %q: %w", cfg.Memory, err)
		}
		hostCfg.Resources.Memory = bytes
	}
	if cfg.CPU > 0 {
		hostCfg.Resources.NanoCPUs = int64(cfg.CPU * 1e9)
	}

	return hostCfg, nil
}

func portMappings(ports []string) (network.PortSet, network.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	exposed := make(network.PortSet)
	bindings := make(network.PortMap)
	anyAddr := netip.MustParseAddr("0.0.0.0")

	for _, p := range ports {
		host, cont, ok := strings.Cut(p, ":")
		if !ok {
			return nil, nil, fmt.Errorf("invalid port mapping %q", p)
		}
		contPort, err := strconv.ParseUint(cont, 10, 16)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port in %q", p)
		}
		if _, err := strconv.ParseUint(host, 10, 16); err != nil {
			return nil, nil, fmt.Errorf("invalid host port in %q", p)
		}

		port, _ := network.PortFrom(uint16(contPort), network.IPProtocol("tcp"))
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], network.PortBinding{
			HostIP:   anyAddr,
			HostPort: host,
		})
	}
	return exposed, bindings, nil
}

func volumeMounts(volumes []string) ([]mount.Mount, error) {
	mounts := make([]mount.Mount, 0, len(volumes))
	for _, v := range volumes {
		source, target, ok := strings.Cut(v, ":")
		if !ok || source == "" || target == "" {
			return nil, fmt.Errorf("invalid volume mapping %q", v)
		}
		mountType := mount.TypeVolume
		if strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".") {
			mountType = mount.TypeBind
		}
		mounts = append(mounts, mount.Mount{
			Type:   mountType,
			Source: source,
			Target: target,
		})
	}
	return mounts, nil
}
