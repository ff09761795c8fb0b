// Package transport carries encoded messages between the two devices.
//
// A Link is a bidirectional datagram pipe: Send queues one payload, and
// the receive handler is called once per payload with the local clock
// reading taken as soon as the payload was read off the wire. Sync
// accuracy depends on that receive stamp, so handlers see it rather than
// stamping themselves.
//
// Implementations:
//
//   - StreamLink: length-prefixed frames over a net.Conn (the TCP
//     reference link).
//   - Loopback: an in-memory pair with configurable latency, jitter and
//     loss, for simulation and tests.
//   - SecureLink: wraps any Link and seals each payload with
//     ChaCha20-Poly1305 under a key derived from a shared pairing secret.
//
// # Framing
//
//	┌────────────────────────────────┐
//	│      CBOR message envelope     │
//	├────────────────────────────────┤
//	│  sealed payload (optional)     │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
package transport
