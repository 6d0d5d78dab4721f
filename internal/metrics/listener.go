package metrics

import "github.com/nexus-edge/opcua-subscription-engine/internal/subscription"

// StateListener adapts a Registry to subscription.StateListener so every
// subscription in a manager reports its transitions without the
// subscription package needing to know metrics exist.
type StateListener struct {
	Registry *Registry
}

// OnStateChange implements subscription.StateListener.
func (l StateListener) OnStateChange(subscriptionID uint32, prev, next subscription.State) {
	l.Registry.ObserveStateTransition(next.String())
}
