package plan

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the engine network name for an environment network.
// Pattern: stackctl_{environment}_{network}
//
// Example:
//
//	NetworkName("goerli", "goerli") // returns "stackctl_goerli_goerli"
func NetworkName(environment, network string) string {
	return fmt.Sprintf("stackctl_%s_%s", environment, network)
}

// VolumeName generates the engine volume name for a declared volume.
// Pattern: stackctl_{environment}_{volume}
//
// Example:
//
//	VolumeName("goerli", "prometheus") // returns "stackctl_goerli_prometheus"
func VolumeName(environment, volume string) string {
	return fmt.Sprintf("stackctl_%s_%s", environment, volume)
}

// ContainerName generates the container name for a service.
// Pattern: stackctl_{environment}_{service}
//
// Example:
//
//	ContainerName("goerli", "oracle") // returns "stackctl_goerli_oracle"
func ContainerName(environment, service string) string {
	return fmt.Sprintf("stackctl_%s_%s", environment, service)
}
