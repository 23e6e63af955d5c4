package ackudp

import "github.com/idavydoff/ackudp/internal/registry"

// Status is the terminal-or-pending delivery state of one outbound
// datagram.
type Status = registry.Status

// StatusHandle is the observable cell Send returns: Pending at creation,
// transitioning at most once to Succeeded or Dropped.
type StatusHandle = registry.StatusHandle

const (
	Pending   = registry.Pending
	Succeeded = registry.Succeeded
	Dropped   = registry.Dropped
)
