// Package wire defines the duosync peer messages and their CBOR encoding.
//
// Every frame on the link is one Envelope: a message type tag plus the
// message body, both CBOR with integer keys. Encoding is deterministic
// (canonical key order, definite lengths) so identical messages produce
// identical bytes on both devices.
//
// Message flow between a Primary (P) and a Secondary (S):
//
//	P <-> S  Hello            identity, power budget, protocol version
//	P  -> S  SyncBeacon       T1, sequence, current beacon interval
//	S  -> P  SyncResponse     echo T1, T2, T3
//	P  -> S  SyncFollowUp     T4, so both sides hold the full timestamp set
//	P <-> S  SheetHeader      active sheet version (birth time, checksum)
//	P <-> S  SheetRequest     ask the peer for its full sheet
//	P <-> S  SheetData        full sheet
//	P <-> S  ModeChangeRequest new sheet born at the request time
package wire
