package core

import "maps"

// ServiceSpec describes one supervised service entry the way the process
// supervisor understands it.
type ServiceSpec struct {
	Override    string            `yaml:"override,omitempty"`
	Startup     string            `yaml:"startup,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// Equal reports whether two specifications are structurally identical.
// Equality of the spec alone is not enough to skip a restart: the command
// only references the config file path, not its content.
func (spec ServiceSpec) Equal(other ServiceSpec) bool {
	return spec.Override == other.Override &&
		spec.Startup == other.Startup &&
		spec.Command == other.Command &&
		maps.Equal(spec.Environment, other.Environment)
}

// ServiceSpecSet is a named collection of service specifications, as returned
// by the process supervisor's current plan.
type ServiceSpecSet map[string]ServiceSpec

// DesiredServiceSpec computes the AUSF service entry for the current pod
// address. Deterministic: same address, same spec.
func DesiredServiceSpec(podIP string) ServiceSpec {
	return ServiceSpec{
		Override: "replace",
		Startup:  "enabled",
		Command:  "/bin/ausf --ausfcfg " + ConfigDir + "/" + ConfigFileName,
		Environment: map[string]string{
			"GOTRACEBACK":                 "crash",
			"GRPC_GO_LOG_VERBOSITY_LEVEL": "99",
			"GRPC_GO_LOG_SEVERITY_LEVEL":  "info",
			"GRPC_TRACE":                  "all",
			"GRPC_VERBOSITY":              "DEBUG",
			"POD_IP":                      podIP,
			"MANAGED_BY_CONFIG_POD":       "true",
		},
	}
}
