// Package discovery finds the peer device on the local network over
// mDNS/DNS-SD.
//
// Each device advertises one _duosync._tcp instance named after its device
// ID. The TXT record carries what a peer needs before it dials:
//
//	id     stable device ID (role tiebreak)
//	proto  protocol identifier, e.g. duosync/1
//	ver    full protocol version, e.g. 1.0
//	pb     power budget (role negotiation)
//	zm     zone mode (auto, manual)
//	pair   pair identifier; only peers with the same pair ID are returned
//	dn     optional display name
//
// The browser aggregates addresses reported on several interfaces into a
// single Peer and drops instances whose protocol major differs from ours.
package discovery
