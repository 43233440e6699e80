package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/gammadia/armada/cli/poolfile"
	"github.com/gammadia/armada/cli/ui"
	"github.com/gammadia/armada/engine"
	"github.com/gammadia/armada/flags"
	"github.com/gammadia/armada/log"
	"github.com/gammadia/armada/provisioner/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var createCmd = &cobra.Command{
	Use:   "create [POOL FLAVOR [FALLBACK...]]",
	Short: "Creates a node pool, trying flavors in order until one succeeds",
	Long: "Creates a node pool by attempting each flavor in order: the primary first,\n" +
		"then the fallbacks. The first flavor fully provisioned wins; if every flavor\n" +
		"fails, the command reports each attempt's diagnostic and exits non-zero.",
	Args: cobra.ArbitraryArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		pf := &poolfile.Poolfile{}
		if file := lo.Must(cmd.Flags().GetString(flags.Poolfile)); file != "" {
			var err error
			pf, err = poolfile.Read(file, poolfile.ReadOptions{
				Params: lo.SliceToMap(lo.Must(cmd.Flags().GetStringArray("param")), func(item string) (key, value string) { key, value, _ = strings.Cut(item, "="); return }),
			})
			if err != nil {
				if e, ok := err.(poolfile.UnmarshalError); ok && verbose {
					cmd.PrintErrln(e.Source)
				}
				return fmt.Errorf("failed to read poolfile '%s': %w", file, err)
			}
		}

		pool := pf.Pool
		flavors := pf.Flavors
		if len(args) > 0 {
			pool = args[0]
			if len(args) > 1 {
				flavors = args[1:]
			}
		}

		count := resolve(cmd, flags.Count, cmd.Flags().GetInt, pf.Count)
		spec := engine.Spec{
			Pool:           pool,
			Count:          count,
			MinCount:       resolve(cmd, flags.MinCount, cmd.Flags().GetInt, pf.Min),
			MaxCount:       resolve(cmd, flags.MaxCount, cmd.Flags().GetInt, pf.Max),
			Zones:          resolveSlice(cmd, flags.Zone, cmd.Flags().GetStringSlice, pf.Zones),
			Taints:         resolveSlice(cmd, flags.Taint, cmd.Flags().GetStringArray, pf.Taints),
			Spot:           resolve(cmd, flags.Spot, cmd.Flags().GetBool, pf.Spot),
			ImageFamily:    resolve(cmd, flags.ImageFamily, cmd.Flags().GetString, pf.Image.Family),
			ImageVersion:   resolve(cmd, flags.ImageVersion, cmd.Flags().GetString, pf.Image.Version),
			CredentialsRef: resolve(cmd, flags.Credentials, cmd.Flags().GetString, pf.Credentials),
		}

		if spec.MaxCount == 0 {
			spec.MaxCount = count
		}

		spec.Labels = pf.Labels
		if labels := lo.Must(cmd.Flags().GetStringArray(flags.Label)); len(labels) > 0 {
			spec.Labels = lo.SliceToMap(labels, func(item string) (key, value string) { key, value, _ = strings.Cut(item, "="); return })
		}

		var primary string
		var fallbacks []string
		if len(flavors) > 0 {
			primary = flavors[0]
			fallbacks = flavors[1:]
		}
		candidates, err := engine.Candidates(primary, fallbacks...)
		if err != nil {
			return err
		}
		if err := spec.Validate(); err != nil {
			return err
		}
		log.Debug("Resolved pool spec",
			"pool", spec.Pool,
			"flavors", lo.Map(candidates, func(c engine.Candidate, _ int) string { return c.Flavor }),
			"count", spec.Count,
		)

		if lo.Must(cmd.Flags().GetBool(flags.DryRun)) {
			cmd.Println(ui.SectionHeaderColor.Sprint("  Pool spec  "))
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(struct {
				Spec    engine.Spec `yaml:",inline"`
				Flavors []string    `yaml:"flavors"`
			}{spec, lo.Map(candidates, func(c engine.Candidate, _ int) string { return c.Flavor })})
		}

		provisioner, err := openstack.NewProvisioner(openstack.Config{
			Logger: log.With("pool", spec.Pool),
			Networks: lo.Map(lo.Must(cmd.Flags().GetStringSlice(flags.OpenstackNetworks)), func(id string, _ int) servers.Network {
				return servers.Network{UUID: id}
			}),
			SecurityGroups: lo.Must(cmd.Flags().GetStringSlice(flags.OpenstackSecurityGroups)),
			ReadyTimeout:   lo.Must(cmd.Flags().GetDuration(flags.ReadyTimeout)),
			PollInterval:   lo.Must(cmd.Flags().GetDuration(flags.PollInterval)),
		})
		if err != nil {
			return fmt.Errorf("failed to create provisioner: %w", err)
		}

		// The CLI renders attempts itself from the event stream, so the
		// engine's own logger stays disabled to avoid double reporting.
		eng := engine.New(provisioner, engine.Config{})
		events, unsubscribe := eng.Subscribe()

		done := make(chan struct{})
		go watchRun(events, done)

		result, err := eng.Run(cmd.Context(), spec, candidates)
		unsubscribe()
		<-done

		if err != nil {
			var exhausted engine.ExhaustionError
			if errors.As(err, &exhausted) {
				cmd.PrintErrln()
				cmd.PrintErrln(ui.SectionHeaderColor.Sprint("  Attempts  "))
				for _, attempt := range exhausted.Attempts {
					cmd.PrintErrln(fmt.Sprintf("%s %s: %s", color.HiRedString("✗"), attempt.Candidate, attempt.Diagnostic))
				}
				return fmt.Errorf("failed to provision pool '%s': every flavor failed", spec.Pool)
			}
			return err
		}

		names := lo.Keys(result.Receipt.Details)
		sort.Strings(names)
		for _, name := range names {
			cmd.Printf("%s\t%s\n", name, result.Receipt.Details[name])
		}
		return nil
	},
}

func init() {
	f := createCmd.Flags()

	f.String(flags.Poolfile, "", "poolfile with pool defaults")
	f.StringArray("param", nil, "poolfile template parameters (key=value)")
	f.Bool(flags.DryRun, false, "print the resolved pool spec without provisioning")

	f.Int(flags.Count, 1, "number of nodes to provision")
	f.Int(flags.MinCount, 1, "minimum node count")
	f.Int(flags.MaxCount, 0, "maximum node count (defaults to --count)")
	f.StringSlice(flags.Zone, nil, "placement zones, in preference order")
	f.StringArray(flags.Label, nil, "node labels (key=value)")
	f.StringArray(flags.Taint, nil, "node taints")
	f.Bool(flags.Spot, false, "request preemptible capacity")
	f.String(flags.ImageFamily, "ubuntu-lts", "OS image family the nodes boot from")
	f.String(flags.ImageVersion, "", "image version pin (defaults to latest)")
	f.String(flags.Credentials, "", "credential reference for the nodes")

	f.StringSlice(flags.OpenstackNetworks, nil, "networks attached to the nodes")
	f.StringSlice(flags.OpenstackSecurityGroups, nil, "security groups defined for the nodes")
	f.Duration(flags.ReadyTimeout, openstack.DefaultReadyTimeout, "how long a server may take to become ready")
	f.Duration(flags.PollInterval, openstack.DefaultPollInterval, "delay between server status polls")

	flags.Bind(f)
}

// resolve returns the poolfile value unless the flag was set explicitly or
// the poolfile value is zero.
func resolve[T comparable](cmd *cobra.Command, name string, get func(string) (T, error), fromPoolfile T) T {
	var zero T
	if !cmd.Flags().Changed(name) && fromPoolfile != zero {
		return fromPoolfile
	}
	return lo.Must(get(name))
}

func resolveSlice(cmd *cobra.Command, name string, get func(string) ([]string, error), fromPoolfile []string) []string {
	if !cmd.Flags().Changed(name) && len(fromPoolfile) > 0 {
		return fromPoolfile
	}
	return lo.Must(get(name))
}

// watchRun renders engine events as spinner updates, or as structured log
// lines in verbose mode, until the event channel closes.
func watchRun(events <-chan engine.Event, done chan<- struct{}) {
	defer close(done)

	var spin *ui.Spinner
	for event := range events {
		switch e := event.(type) {
		case engine.EventAttemptStarted:
			if verbose {
				log.Info("Provisioning pool", "pool", e.Pool, "flavor", e.Flavor, "rank", e.Rank, "total", e.Total)
				continue
			}
			msg := fmt.Sprintf("Provisioning pool '%s' with flavor '%s' (%d/%d)", e.Pool, e.Flavor, e.Rank, e.Total)
			if spin == nil {
				spin = ui.NewSpinner(msg)
			} else {
				spin.UpdateMessage(msg)
			}

		case engine.EventAttemptFailed:
			if verbose {
				log.Warn("Provisioning attempt failed", "pool", e.Pool, "flavor", e.Flavor, "rank", e.Rank, "error", e.Diagnostic)
				continue
			}
			spin.Warn(fmt.Sprintf("Flavor '%s' failed: %s", e.Flavor, e.Diagnostic))
			spin = nil

		case engine.EventAttemptSucceeded:
			if verbose {
				log.Info("Pool provisioned", "pool", e.Pool, "flavor", e.Flavor, "rank", e.Rank, "message", e.Message)
				continue
			}
			spin.Success(fmt.Sprintf("Pool '%s' provisioned with flavor '%s': %s", e.Pool, e.Flavor, e.Message))
			spin = nil

		case engine.EventExhausted:
			if verbose {
				log.Error("Pool could not be provisioned", "pool", e.Pool, "attempts", e.Attempts)
				continue
			}
			spin.Fail(fmt.Sprintf("Pool '%s' could not be provisioned", e.Pool))
			spin = nil
		}
	}
}
