package poolfile

import (
	"fmt"
	"regexp"

	"github.com/samber/lo"
)

const PoolfileVersion = "1"

// Poolfile is the YAML pool definition. Everything in it acts as a default
// that explicit command-line flags override.
type Poolfile struct {
	Version string

	// Pool is the target pool name.
	Pool string
	// Flavors lists the machine flavors in priority order, primary first.
	Flavors []string

	Count int
	Min   int
	Max   int

	Zones  []string
	Labels map[string]string
	Taints []string
	Spot   bool

	Image       PoolfileImage
	Credentials string
}

type PoolfileImage struct {
	Family  string
	Version string
}

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)
var labelKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

func (poolfile Poolfile) Validate() error {
	if poolfile.Version != PoolfileVersion {
		return fmt.Errorf("unsupported version '%s'", poolfile.Version)
	}

	if poolfile.Pool != "" && !nameRegex.MatchString(poolfile.Pool) {
		return fmt.Errorf("pool must be a valid identifier")
	}

	if lo.SomeBy(poolfile.Flavors, func(flavor string) bool { return flavor == "" }) {
		return fmt.Errorf("flavors must not contain empty entries")
	}

	if poolfile.Count < 0 || poolfile.Min < 0 || poolfile.Max < 0 {
		return fmt.Errorf("count, min and max must not be negative")
	}
	if poolfile.Count > 0 && poolfile.Max > 0 && (poolfile.Min > poolfile.Count || poolfile.Count > poolfile.Max) {
		return fmt.Errorf("count must satisfy min <= count <= max")
	}

	for key := range poolfile.Labels {
		if !labelKeyRegex.MatchString(key) {
			return fmt.Errorf("labels[%s] must be a valid label key", key)
		}
	}

	for _, taint := range poolfile.Taints {
		if taint == "" {
			return fmt.Errorf("taints must not contain empty entries")
		}
	}

	return nil
}
