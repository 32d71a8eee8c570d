package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

var (
	serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	memoryPattern      = regexp.MustCompile(`^[0-9]+[GMK]$`)
)

// Validate checks a PlatformConfig for structural problems. Dependency cycles
// and unknown references are the graph builder's concern and are not checked
// here.
func Validate(cfg PlatformConfig) error {
	var errs ValidationErrors

	if strings.TrimSpace(cfg.Platform.Name) == "" {
		errs.Add("platform.name", "is required")
	}
	switch cfg.Platform.Environment {
	case "", "development", "production", "custom":
	default:
		errs.Add("platform.environment", "must be one of development, production, custom", cfg.Platform.Environment)
	}
	if cfg.Runtime.Workers < 0 {
		errs.Add("runtime.workers", "must not be negative", cfg.Runtime.Workers)
	}

	for _, name := range cfg.Services.Names() {
		spec, _ := cfg.Services.Get(name)
		validateService(spec, &errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateService(spec ServiceSpec, errs *ValidationErrors) {
	field := func(suffix string) string {
		return fmt.Sprintf("services.%s.%s", spec.Name, suffix)
	}

	if !serviceNamePattern.MatchString(spec.Name) {
		errs.Add("services", fmt.Sprintf("invalid service name %q", spec.Name), spec.Name)
	}
	if strings.TrimSpace(spec.Image) == "" {
		errs.Add(field("image"), "is required")
	}
	if spec.Memory != "" && !memoryPattern.MatchString(spec.Memory) {
		errs.Add(field("memory"), "must match e.g. 512M or 2G", spec.Memory)
	}
	if spec.CPU < 0 {
		errs.Add(field("cpu"), "must not be negative", spec.CPU)
	}

	for _, dep := range spec.DependsOn {
		if strings.TrimSpace(dep) == "" {
			errs.Add(field("dependsOn"), "contains an empty dependency name")
		}
		if dep == spec.Name {
			errs.Add(field("dependsOn"), "service depends on itself")
		}
	}

	for _, port := range spec.Ports {
		if err := validatePortMapping(port); err != nil {
			errs.Add(field("ports"), err.Error(), port)
		}
	}

	if spec.HealthCheck != nil {
		validateHealthCheck(spec.Name, *spec.HealthCheck, errs)
	}
}

func validateHealthCheck(service string, hc HealthCheckSpec, errs *ValidationErrors) {
	field := fmt.Sprintf("services.%s.healthCheck", service)

	switch hc.Protocol {
	case HealthCheckCmd, HealthCheckTCP, HealthCheckHTTP:
	default:
		errs.Add(field+".protocol", "must be one of cmd, tcp, http", string(hc.Protocol))
	}
	if strings.TrimSpace(hc.Target) == "" {
		errs.Add(field+".target", "is required")
	}
	if hc.Interval < 0 {
		errs.Add(field+".interval", "must not be negative", hc.Interval)
	}
	if hc.Timeout < 0 {
		errs.Add(field+".timeout", "must not be negative", hc.Timeout)
	}
	if hc.MaxAttempts < 0 {
		errs.Add(field+".maxAttempts", "must not be negative", hc.MaxAttempts)
	}
}

// validatePortMapping accepts "host:container" with both parts numeric.
func validatePortMapping(mapping string) error {
	parts := strings.Split(mapping, ":")
	if len(parts) != 2 {
		return fmt.Errorf("port mapping must be host:container, got %q", mapping)
	}
	for _, part := range parts {
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q in mapping %q", part, mapping)
		}
	}
	return nil
}
