// Package connection keeps the peer link up.
//
// A Manager dials the peer, hands each established link to the device
// service, waits for it to drop and dials again with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Reset to the initial delay after a successful connection
//
// Jitter spreads retries so two devices restarting together do not dial
// in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
