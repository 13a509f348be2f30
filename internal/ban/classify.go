package ban

import (
	"github.com/mogad0n/oraserv/internal/config"
	"github.com/ryanuber/go-glob"
)

// Class is the enforcement strategy for an address.
type Class int

const (
	GenericHost Class = iota
	ServiceAccount
	BridgedIdentity
)

func (c Class) String() string {
	switch c {
	case ServiceAccount:
		return "service account"
	case BridgedIdentity:
		return "bridged identity"
	default:
		return "generic host"
	}
}

// Classifier maps addresses to classes. It is immutable once built.
type Classifier struct {
	serviceHost string
	bridgeHosts []string
}

func NewClassifier(cfg config.Enforcement) *Classifier {
	return &Classifier{
		serviceHost: config.NormalizeHost(cfg.ServiceHost),
		bridgeHosts: cfg.Bridges(),
	}
}

// Classify checks the service host first, then bridge membership.
func (c *Classifier) Classify(address string) Class {
	address = config.NormalizeHost(address)

	if c.serviceHost != "" && address == c.serviceHost {
		return ServiceAccount
	}

	for _, bridge := range c.bridgeHosts {
		if glob.Glob(bridge, address) {
			return BridgedIdentity
		}
	}

	return GenericHost
}
