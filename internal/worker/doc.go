// Package worker is the extension-process side of the bridge.
//
// Ownership boundary:
// - handler registry for host->worker message kinds
// - embedded Lua runtime those handlers drive
// - the `bridge` Lua module scripts use to talk back to the host
package worker
