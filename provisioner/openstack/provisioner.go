// Package openstack provisions pools as Nova servers, one server per node,
// booted from an image resolved by family name.
package openstack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gammadia/armada/engine"
	"github.com/gammadia/armada/namegen"
	"github.com/gammadia/armada/provisioner/internal"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/images"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

type Provisioner struct {
	name   namegen.ID
	config Config
	client *gophercloud.ServiceClient
	log    *slog.Logger
}

// Provisioner implements engine.Provisioner
var _ engine.Provisioner = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: os.Getenv("OS_REGION_NAME"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}

	if config.ReadyTimeout == 0 {
		config.ReadyTimeout = DefaultReadyTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Provisioner{
		name:   namegen.Get(),
		config: config,
		client: client,
		log:    logger.With("provisioner", "openstack"),
	}, nil
}

// Provision boots request.Count servers of the candidate flavor and waits
// for all of them to become ACTIVE. On any error the servers created so
// far are deleted best-effort and the raw diagnostic is returned; the
// engine decides whether another flavor gets a try.
func (p *Provisioner) Provision(ctx context.Context, request engine.Request) (engine.Receipt, error) {
	var receipt engine.Receipt

	flavorID, err := p.flavorID(request.Flavor)
	if err != nil {
		return receipt, fmt.Errorf("failed to resolve flavor '%s': %w", request.Flavor, err)
	}

	image := imageName(request.ImageFamily, request.ImageVersion)
	imageID, err := p.imageID(image)
	if err != nil {
		return receipt, fmt.Errorf("failed to resolve image '%s': %w", image, err)
	}

	metadata := p.metadata(request)

	created := make([]*servers.Server, 0, request.Count)
	for i := 0; i < request.Count; i++ {
		if err := ctx.Err(); err != nil {
			p.cleanup(created)
			return receipt, err
		}

		name := fmt.Sprintf("%s-%s-%d", request.Pool, p.name, i)
		opts := servers.CreateOpts{
			Name:           name,
			ImageRef:       imageID,
			FlavorRef:      flavorID,
			Networks:       p.config.Networks,
			SecurityGroups: p.config.SecurityGroups,
			Metadata:       metadata,
		}
		if len(request.Zones) > 0 {
			opts.AvailabilityZone = request.Zones[i%len(request.Zones)]
		}

		server, err := servers.Create(p.client, opts).Extract()
		if err != nil {
			p.cleanup(created)
			return receipt, fmt.Errorf("failed to create server '%s' with flavor '%s': %w", name, request.Flavor, err)
		}

		p.log.Debug("Created server", "server", name, "id", server.ID, "flavor", request.Flavor)
		created = append(created, server)
	}

	details := make(map[string]string, len(created))
	for i, server := range created {
		p.log.Debug("Waiting for server to become ready", "id", server.ID, "timeout", p.config.ReadyTimeout)
		if err := p.waitForActive(ctx, server.ID); err != nil {
			p.cleanup(created)
			return receipt, fmt.Errorf("server %d/%d did not become ready: %w", i+1, len(created), err)
		}
		details[server.Name] = server.ID
	}

	receipt = engine.Receipt{
		Message: fmt.Sprintf("%d servers online with flavor '%s'", len(created), request.Flavor),
		Details: details,
	}
	return receipt, nil
}

// imageName composes the image to boot from: the bare family for latest,
// or "family-version" when a version is pinned.
func imageName(family, version string) string {
	if version == "" {
		return family
	}
	return fmt.Sprintf("%s-%s", family, version)
}

// The compute API only takes flavor and image IDs, so names are resolved
// by listing and matching. A name matching several IDs is an error rather
// than a silent pick.

func (p *Provisioner) flavorID(name string) (string, error) {
	pages, err := flavors.ListDetail(p.client, flavors.ListOpts{}).AllPages()
	if err != nil {
		return "", fmt.Errorf("failed to list flavors: %w", err)
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract flavors: %w", err)
	}
	return flavorIDByName(all, name)
}

func flavorIDByName(all []flavors.Flavor, name string) (string, error) {
	matches := lo.Filter(all, func(flavor flavors.Flavor, _ int) bool { return flavor.Name == name })
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no flavor named '%s'", name)
	case 1:
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("%d flavors named '%s'", len(matches), name)
	}
}

func (p *Provisioner) imageID(name string) (string, error) {
	pages, err := images.ListDetail(p.client, images.ListOpts{Name: name}).AllPages()
	if err != nil {
		return "", fmt.Errorf("failed to list images: %w", err)
	}
	all, err := images.ExtractImages(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract images: %w", err)
	}
	return imageIDByName(all, name)
}

func imageIDByName(all []images.Image, name string) (string, error) {
	// The Name filter in ListOpts is advisory, match again locally
	matches := lo.Filter(all, func(image images.Image, _ int) bool { return image.Name == name })
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no image named '%s'", name)
	case 1:
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("%d images named '%s'", len(matches), name)
	}
}

func (p *Provisioner) metadata(request engine.Request) map[string]string {
	metadata := map[string]string{
		"armada-pool":           request.Pool,
		"armada-provisioner":    p.name.String(),
		"armada-provisioned-at": time.Now().Format(time.RFC3339),
	}
	for key, value := range request.Labels {
		metadata["armada-label-"+key] = value
	}
	if len(request.Taints) > 0 {
		metadata["armada-taints"] = strings.Join(request.Taints, ",")
	}
	if request.Spot {
		metadata["armada-spot"] = "true"
	}
	if request.CredentialsRef != "" {
		metadata["armada-credentials"] = request.CredentialsRef
	}
	return metadata
}

func (p *Provisioner) waitForActive(ctx context.Context, id string) error {
	return internal.WaitUntil(ctx, p.config.PollInterval, p.config.ReadyTimeout, func() (bool, error) {
		server, err := servers.Get(p.client, id).Extract()
		if err != nil {
			return false, fmt.Errorf("failed to get server '%s': %w", id, err)
		}
		switch server.Status {
		case "ACTIVE":
			return true, nil
		case "ERROR":
			return false, fmt.Errorf("server '%s' entered ERROR state: %s", id, server.Fault.Message)
		default:
			return false, nil
		}
	})
}

// cleanup deletes the servers of a failed attempt. Best-effort: a leftover
// server is logged and abandoned, reconciliation is up to the operator.
func (p *Provisioner) cleanup(created []*servers.Server) {
	// Detached from the attempt's context so cleanup still runs after cancellation
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, server := range created {
		err := internal.Retry(ctx, 3, func() error {
			return servers.Delete(p.client, server.ID).ExtractErr()
		})
		if err != nil {
			p.log.Warn("Failed to delete server, manual cleanup required", "server", server.Name, "id", server.ID, "error", err)
		} else {
			p.log.Debug("Deleted server", "server", server.Name, "id", server.ID)
		}
	}
}
