// Package daemon schedules sync passes and reports sync status.
//
// The Monitor sits between connectivity and the sync engine:
//
//	SetOnline(true) ──┐
//	Trigger()       ──┼──> scheduler goroutine ──> Engine.Sync ──> OnSync hook
//	interval ticker ──┘        (one pass at a time)
//
// Connectivity comes either from callers (SetOnline) or, when a Prober is
// configured, from a loop that probes the remote store every ProbeInterval
// and feeds the result into SetOnline.
//
// An offline to online transition schedules exactly one pass. Triggers that
// arrive while a pass is queued are coalesced into it. The interval ticker
// only starts a pass while online.
//
// Usage:
//
//	mon := daemon.New(engine, localStore, daemon.Config{
//	    SyncInterval: 30 * time.Second,
//	    Prober:       remoteStore,
//	    OnSync:       hub.BroadcastSync,
//	}, logger)
//	go mon.Start(ctx)
//	defer mon.Stop()
//
// Status never starts a pass; it only reads counts from the local store.
package daemon
