// Package constants holds identifiers shared between configuration and infrastructure.
package constants

// Pub/Sub providers accepted by pubsub.provider.
const (
	PubSubProviderLocal  = "local"
	PubSubProviderGoogle = "google"
)

// Attribute keys set on every published security event.
const (
	EventAttributeType      = "event_type"
	EventAttributeUserID    = "user_id"
	EventAttributeRequestID = "request_id"
)

// Environment names that change runtime behaviour.
const (
	EnvDevelop = "develop"
)
