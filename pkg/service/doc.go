// Package service runs one duosync device.
//
// DeviceService owns the components of a device and routes messages between
// them and the peer link:
//   - timesync.Engine: beacons, offset filter, synchronized time
//   - sheet.Registry: the active sheet and its versioning
//   - playback.Engine: the output loop
//   - role.Resolver and zone.Binding: timing role and physical zone
//   - fallback.Monitor: disconnection phases and survivor failover
//
// The link itself comes from outside. Attach hands a connected
// transport.Link to the service; the service sends Hello, negotiates roles,
// reconciles sheets and runs the sync exchange until the link goes down.
// Playback never depends on the link being up.
//
// Example usage:
//
//	cfg := service.DefaultConfig()
//	cfg.DeviceID = id
//	cfg.Clock = clock.NewMonotonic(nil)
//	cfg.Actuator = driver
//
//	svc, err := service.NewDeviceService(cfg)
//	svc.Start(ctx)
//	defer svc.Stop()
//
//	mgr := connection.NewManager(dial, connection.Config{})
//	svc.UseManager(mgr)
//	go mgr.Run(ctx)
//
// # Events
//
// Only two error conditions leave the device: sync starvation and sheet
// corruption. Both are delivered through OnEvent and reflected in
// Diagnostics. Connection, role, sheet and fallback changes are reported
// the same way.
package service
