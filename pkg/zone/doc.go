// Package zone models the physical output zone of a device.
//
// A zone is the physical position a device drives (LEFT or RIGHT in the
// two-device configuration). It is orthogonal to the timing role: the role
// decides who originates beacons, the zone decides which column of a sheet
// the device executes.
//
// # Immutability
//
// A zone is fixed for the lifetime of a session. In manual mode it is set
// at configuration time. In auto mode it is derived from the first
// negotiated timing role (Primary drives RIGHT, Secondary drives LEFT) and
// then locked; later role renegotiation never moves it.
package zone
