package engine

import "fmt"

// Candidate is one flavor to try, with its position in the fallback order.
type Candidate struct {
	// Flavor is the machine flavor identifier, opaque to the engine.
	Flavor string
	// Rank is 1 for the primary flavor, 2 for the first fallback, and so on.
	Rank int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s (rank %d)", c.Flavor, c.Rank)
}

// Candidates builds the ordered list of flavors to attempt: the primary
// first, then the fallbacks in the order given. Empty fallback entries are
// omitted entirely, they are not attempted as blanks. The primary must be
// non-empty and no flavor may appear twice.
func Candidates(primary string, fallbacks ...string) ([]Candidate, error) {
	if primary == "" {
		return nil, ConfigurationError{Reason: "primary flavor must not be empty"}
	}

	candidates := []Candidate{{Flavor: primary, Rank: 1}}
	seen := map[string]bool{primary: true}

	for _, flavor := range fallbacks {
		if flavor == "" {
			continue
		}
		if seen[flavor] {
			return nil, ConfigurationError{Reason: fmt.Sprintf("duplicate flavor '%s'", flavor)}
		}
		seen[flavor] = true
		candidates = append(candidates, Candidate{Flavor: flavor, Rank: len(candidates) + 1})
	}

	return candidates, nil
}
