// Package flags names every armada flag and binds them to viper, so that
// any flag can also be set through the environment (ARMADA_LOG_LEVEL, ...).
package flags

import (
	"strings"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	Count        = "count"
	MinCount     = "min-count"
	MaxCount     = "max-count"
	Zone         = "zone"
	Label        = "label"
	Taint        = "taint"
	Spot         = "spot"
	ImageFamily  = "image-family"
	ImageVersion = "image-version"
	Credentials  = "credentials"
	Poolfile     = "poolfile"
	DryRun       = "dry-run"

	OpenstackNetworks       = "openstack-networks"
	OpenstackSecurityGroups = "openstack-security-groups"
	ReadyTimeout            = "ready-timeout"
	PollInterval            = "poll-interval"
)

// Bind wires a flag set into viper with the ARMADA_ environment prefix.
func Bind(flags *flag.FlagSet) {
	viper.SetEnvPrefix("armada")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
