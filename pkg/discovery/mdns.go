package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/duosync/duosync-go/pkg/version"
)

// AdvertiserConfig configures the advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one interface. Empty means all.
	Interface string

	// TTL is the DNS record TTL. Default: 120 seconds.
	TTL time.Duration

	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: 120 * time.Second}
}

// Advertiser publishes the local device.
type Advertiser struct {
	config AdvertiserConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{config: config, logger: logger}
}

// Advertise starts advertising info, replacing any earlier advertisement.
func (a *Advertiser) Advertise(info *Info) error {
	name := info.InstanceName()
	if err := ValidateInstanceName(name); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		name,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeTXT(info)),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", ServiceType, err)
	}

	a.server = server
	a.logger.Info("advertising", "instance", name, "port", port)
	return nil
}

// Update replaces the TXT record of the running advertisement.
func (a *Advertiser) Update(info *Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotFound
	}
	a.server.SetText(TXTRecordsToStrings(EncodeTXT(info)))
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// BrowserConfig configures the browser.
type BrowserConfig struct {
	// Interface restricts browsing to one interface. Empty means all.
	Interface string

	// BrowseTimeout bounds Find. Default: 10 seconds.
	BrowseTimeout time.Duration

	// SelfID is skipped so a device never finds its own advertisement.
	SelfID string

	// PairID, when set, drops peers advertising a different pair.
	PairID string

	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}

// Browser looks for peer devices.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger
	local  version.ProtocolVersion
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{config: config, logger: logger, local: version.MustParse(version.Current)}
}

// Browse emits every new acceptable peer until ctx is done. Addresses
// seen on several interfaces are merged into the first emitted Peer.
func (b *Browser) Browse(ctx context.Context) (<-chan *Peer, error) {
	out := make(chan *Peer)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)

		table := newPeerTable()
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				p, err := peerFromEntry(entry.Instance, entry.HostName, entry.Port, entry.Text, entryAddresses(entry))
				if err != nil {
					b.logger.Debug("ignoring service entry", "instance", entry.Instance, "error", err)
					continue
				}
				if !b.accept(p) {
					continue
				}
				if !table.add(p) {
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				table.remove(entry.Instance, entryAddresses(entry))

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...); err != nil {
			b.logger.Warn("mDNS browse failed", "error", err)
		}
	}()

	return out, nil
}

// Find returns the first acceptable peer, waiting at most BrowseTimeout.
func (b *Browser) Find(ctx context.Context) (*Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	peers, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case p, ok := <-peers:
		if !ok {
			return nil, ErrNotFound
		}
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotFound, ctx.Err())
	}
}

// accept filters out ourselves, other pairs and incompatible versions.
func (b *Browser) accept(p *Peer) bool {
	if b.config.SelfID != "" && p.DeviceID == b.config.SelfID {
		return false
	}
	if b.config.PairID != "" && p.PairID != b.config.PairID {
		return false
	}
	if !b.local.Compatible(p.Version) {
		b.logger.Info("skipping incompatible peer", "device", p.DeviceID, "version", p.Version.String())
		return false
	}
	return true
}

func peerFromEntry(instance, host string, port int, text []string, addrs []string) (*Peer, error) {
	info, err := DecodeTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil, err
	}
	info.Port = uint16(port)
	return &Peer{
		Info:         *info,
		InstanceName: instance,
		Host:         host,
		Addresses:    addrs,
	}, nil
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// interfaces returns the named interface, or nil for all.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// peerTable aggregates one Peer per instance name.
type peerTable struct {
	peers map[string]*Peer
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*Peer)}
}

// add records p and reports whether it is new. Known instances only gain
// addresses.
func (t *peerTable) add(p *Peer) bool {
	if existing, ok := t.peers[p.InstanceName]; ok {
		existing.Addresses = mergeAddresses(existing.Addresses, p.Addresses)
		return false
	}
	t.peers[p.InstanceName] = p
	return true
}

// remove drops addrs from the instance and forgets it once none remain.
func (t *peerTable) remove(instance string, addrs []string) {
	existing, ok := t.peers[instance]
	if !ok {
		return
	}
	existing.Addresses = removeAddresses(existing.Addresses, addrs)
	if len(existing.Addresses) == 0 {
		delete(t.peers, instance)
	}
}

func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses, drop []string) []string {
	gone := make(map[string]bool, len(drop))
	for _, addr := range drop {
		gone[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !gone[addr] {
			result = append(result, addr)
		}
	}
	return result
}
