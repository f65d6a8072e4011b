// Package comm is a thin addressing and correlation layer over the bus. Each
// agent gets a private inbound channel ("agent.<name>") plus helpers for
// correlated request/response exchanges and uncorrelated event broadcasts.
// The default inbound handler auto-acknowledges requests; concrete agents
// override it to implement domain logic.
package comm
