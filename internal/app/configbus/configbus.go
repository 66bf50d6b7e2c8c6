// Package configbus adapts pkg/pgnotify's generic NOTIFY/LISTEN Bus into
// the single "policy_changed" fan-out the DOMAIN STACK calls for: when the
// Policy Compiler commits a new bundle version, every primary process
// (and any replica) invalidates its precache TTL cache instead of waiting
// for cached answers to naturally expire.
package configbus

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/Zerostate-IO/powerblockade/pkg/pgnotify"
)

const policyChangedChannel = "policy_changed"

// PolicyChangedPayload is published on every successful compile.
type PolicyChangedPayload struct {
	ConfigVersion string `json:"config_version"`
}

// PublishPolicyChanged notifies every listener (including other processes)
// that a new config version has been committed.
func PublishPolicyChanged(ctx context.Context, bus *pgnotify.Bus, configVersion string) error {
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, policyChangedChannel, PolicyChangedPayload{ConfigVersion: configVersion})
}

// Invalidator is invoked for every policy_changed notification this process
// receives, including ones it published itself.
type Invalidator interface {
	Invalidate()
}

// SubscribePolicyChanged wires inv.Invalidate to fire on every
// policy_changed notification.
func SubscribePolicyChanged(bus *pgnotify.Bus, inv Invalidator, log *logrus.Entry) error {
	if bus == nil || inv == nil {
		return nil
	}
	return bus.Subscribe(policyChangedChannel, func(ctx context.Context, event pgnotify.Event) error {
		var payload PolicyChangedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			if log != nil {
				log.WithError(err).Warn("configbus: malformed policy_changed payload")
			}
		}
		inv.Invalidate()
		return nil
	})
}
