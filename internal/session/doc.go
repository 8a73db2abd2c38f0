// Package session owns the single locally authenticated session of this
// process: the manager is the source of truth for "is there a session", the
// arbiter decides whether an incoming announcement supersedes it, and the
// kill switch performs the idempotent emergency shutdown sequence.
package session
