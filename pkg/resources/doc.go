// Package resources tracks externally acquired handles (connections, files,
// memory blocks, timers) and guarantees they are released.
//
// Invariants:
// - A resource id is tracked at most once; once released it is removed.
// - Releasing an unknown id is a no-op, so the idle sweep and an explicit release cannot double-release.
// - Release failures are retried MaxRetries times RetryDelay apart, then returned to explicit callers and only logged by the sweep.
//
// Usage:
//
//	mgr := resources.NewManager(resources.DefaultConfig())
//	_ = mgr.Start()
//	defer mgr.Shutdown(context.Background())
//	_ = mgr.RegisterResource(resources.Resource{ID: "conn-1", Type: resources.TypeConnection, Handle: conn})
package resources
