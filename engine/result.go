package engine

// Attempt records the outcome of one provisioning attempt. Immutable once
// appended to the attempt log.
type Attempt struct {
	Candidate Candidate
	// Success reports whether the provisioner returned without error.
	Success bool
	// Receipt is the provisioner's payload. Only set on success.
	Receipt Receipt
	// Diagnostic is the provisioner's error text, preserved verbatim.
	// Only set on failure.
	Diagnostic string
}

// Result is the terminal outcome of a run. Attempts always holds the full
// log, one entry per flavor tried, in fallback order, whatever the outcome.
type Result struct {
	// Provisioned reports whether some candidate succeeded.
	Provisioned bool
	// Candidate is the winning flavor. Only set when Provisioned.
	Candidate Candidate
	// Receipt is the winning attempt's payload. Only set when Provisioned.
	Receipt Receipt

	Attempts []Attempt
}
