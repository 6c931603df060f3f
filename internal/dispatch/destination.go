package dispatch

import "context"

// Destination publishes a rendered message to an external channel.
// Implementations are grounded on the teacher's notification channels
// (internal/notification/*.go) — same *http.Client-with-timeout shape,
// generalized from the teacher's fixed alert-message struct to an
// already-rendered subject/message pair.
//
// hostDenyList carries spec.md §6's "destination.host.deny.list" —
// forbidden publish hosts — separately from the Dispatcher's
// destination-type allow/deny lists: a destination's *type* may be
// permitted while the specific host its config resolves to is not
// (e.g. an operator-forbidden internal address behind a generic
// custom_webhook). Every implementation below must raise before
// issuing any request to a denied host.
type Destination interface {
	Type() string
	Publish(ctx context.Context, subject, message string, destCtx map[string]string, hostDenyList []string) (messageID string, err error)
}

// DestinationConfig is a destination's stored configuration, keyed by
// ID and resolved at dispatch time so credential rotation takes
// effect without a process restart.
type DestinationConfig struct {
	ID     string
	Type   string
	Name   string
	Config map[string]string
}
