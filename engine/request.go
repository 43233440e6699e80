package engine

// Spec holds the parameters shared by every attempt of a run. It is merged
// with the current candidate to form the request of each attempt.
type Spec struct {
	// Pool is the target pool identity. Required.
	Pool string

	// Count is the number of nodes to provision, within [MinCount, MaxCount].
	Count    int
	MinCount int
	MaxCount int

	// Zones are the placement zones for the nodes, in preference order.
	Zones []string
	// Labels are attached to every node of the pool.
	Labels map[string]string
	// Taints are attached to every node of the pool.
	Taints []string
	// Spot requests preemptible capacity.
	Spot bool

	// ImageFamily selects the OS image family the nodes boot from. Required.
	ImageFamily string
	// ImageVersion pins a specific image version within the family.
	// Empty means latest.
	ImageVersion string

	// CredentialsRef names the credential/identity the nodes run under.
	CredentialsRef string
}

// Validate checks everything except the candidate flavors, which are
// validated by Candidates.
func (s Spec) Validate() error {
	if s.Pool == "" {
		return ConfigurationError{Reason: "pool name must not be empty"}
	}
	if s.ImageFamily == "" {
		return ConfigurationError{Reason: "image family must not be empty"}
	}
	if s.Count < 1 {
		return ConfigurationError{Reason: "node count must be at least 1"}
	}
	if s.MinCount > s.Count || s.Count > s.MaxCount {
		return ConfigurationError{
			Reason: "node count must satisfy min <= count <= max",
		}
	}
	return nil
}

// Request is the immutable value describing one provisioning attempt:
// the shared spec plus the candidate being tried. Built fresh per attempt
// so no state leaks from one attempt to the next.
type Request struct {
	Spec
	Candidate
}

func (s Spec) request(candidate Candidate) Request {
	return Request{Spec: s, Candidate: candidate}
}
