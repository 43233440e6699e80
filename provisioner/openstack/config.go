package openstack

import (
	"log/slog"
	"time"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type Config struct {
	// Logger receives provisioning logs. Nil disables logging.
	Logger *slog.Logger

	// Networks attached to every node.
	Networks []servers.Network
	// SecurityGroups defined for every node.
	SecurityGroups []string

	// ReadyTimeout bounds how long a single server may take to become
	// ACTIVE before the attempt is failed.
	ReadyTimeout time.Duration
	// PollInterval is the delay between server status polls.
	PollInterval time.Duration
}

const (
	DefaultReadyTimeout = 2 * time.Minute
	DefaultPollInterval = 5 * time.Second
)
