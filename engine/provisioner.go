package engine

import "context"

// Provisioner is the single external collaborator of the engine.
type Provisioner interface {
	// Provision attempts to bring the pool described by the request online.
	// A nil error means the pool is up on the requested flavor; any error
	// means the attempt failed and carries the diagnostic for the report.
	// The engine never inspects the receipt, it only carries it through.
	// Provision may leave partial resources behind on failure; cleaning
	// those up is the provisioner's (or the operator's) concern.
	Provision(ctx context.Context, request Request) (Receipt, error)
}

// Receipt is the opaque success payload returned by a provisioner.
type Receipt struct {
	// Message is a human-readable description of what was provisioned.
	Message string
	// Details carries provider-specific key/value pairs (server IDs, addresses, ...).
	Details map[string]string
}
