package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/duosync/duosync-go/pkg/version"
	"github.com/duosync/duosync-go/pkg/zone"
)

const (
	// ServiceType is the DNS-SD service type.
	ServiceType = "_duosync._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default listening port of the stream link.
	DefaultPort = 47400

	// BrowseTimeout is the default time to wait for a peer.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// InstancePrefix starts every instance name.
	InstancePrefix = "duo-"
)

// TXT record keys.
const (
	TXTKeyDeviceID    = "id"
	TXTKeyProtocol    = "proto"
	TXTKeyVersion     = "ver"
	TXTKeyPowerBudget = "pb"
	TXTKeyZoneMode    = "zm"
	TXTKeyPair        = "pair"
	TXTKeyName        = "dn"
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("peer not found")
)

// Info is what a device advertises about itself.
type Info struct {
	DeviceID    string
	Name        string
	PowerBudget uint16
	ZoneMode    zone.Mode
	PairID      string
	Version     version.ProtocolVersion
	Port        uint16
}

// InstanceName returns the DNS-SD instance name for the device.
func (i *Info) InstanceName() string {
	name := InstancePrefix + i.DeviceID
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// Peer is a discovered device.
type Peer struct {
	Info

	InstanceName string
	Host         string

	// Addresses holds every address the instance was seen on, IPv4 first.
	Addresses []string
}

// Addr returns a dialable host:port for the peer, or "" when no address
// is known.
func (p *Peer) Addr() string {
	if len(p.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(p.Addresses[0], strconv.Itoa(int(p.Port)))
}
