// Package config defines the declarative configuration model for datastack
// and its loading pipeline.
//
// The model is the desired-state input for the orchestration engine: a
// PlatformConfig names the services to run, their images, environments, port
// and volume mappings, dependencies and health check descriptors. The model
// is immutable once loaded; the engine only reads it.
//
// Loading goes through LoadConfig, which layers the default stack, the
// datastack.yaml file, .env secrets and DATASTACK_* environment overrides,
// then validates the result. Service declaration order is preserved through
// the YAML round-trip because it is the deterministic tie-break used by the
// dependency graph builder.
package config
