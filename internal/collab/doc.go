// Package collab is the reading-session sync engine.
//
// A Session is one participant's live view of a shared reading: it mirrors the
// durable record, resolves what that participant may write, relays writes it
// cannot make itself to the host, and carries presence and viewport traffic.
// SyncCoordinator.Join builds a Session through the staged join pipeline and
// Session.Leave tears it down. Nothing in this package is process-global.
package collab
