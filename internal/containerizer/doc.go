// Package containerizer abstracts container engine operations behind the
// ContainerRuntime interface.
//
// The Docker implementation talks to the Engine API and covers the full
// container lifecycle: network and volume provisioning, create/start,
// graceful stop, removal, inspection, and health probing. Engines are
// registered by name so alternative runtimes can be plugged in without
// touching callers.
//
// Health probes come in three flavors. cmd probes are installed as native
// engine healthchecks and read back from container state, tcp probes dial
// a host-published port, and http probes expect a 2xx from a GET.
package containerizer
