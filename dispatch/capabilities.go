// Package dispatch issues cover movement commands over MQTT, choosing the
// service call each actuator actually supports.
package dispatch

// Feature bits reported by cover actuators in their supported_features
// attribute.
const (
	FeatureOpen            = 1
	FeatureClose           = 2
	FeatureSetPosition     = 4
	FeatureStop            = 8
	FeatureOpenTilt        = 16
	FeatureCloseTilt       = 32
	FeatureStopTilt        = 64
	FeatureSetTiltPosition = 128
)

// Capabilities describes what an actuator can do.
type Capabilities struct {
	SetPosition     bool
	SetTiltPosition bool
	Open            bool
	Close           bool
}

// ParseCapabilities decodes a supported_features bitmask.
func ParseCapabilities(features int) Capabilities {
	return Capabilities{
		SetPosition:     features&FeatureSetPosition != 0,
		SetTiltPosition: features&FeatureSetTiltPosition != 0,
		Open:            features&FeatureOpen != 0,
		Close:           features&FeatureClose != 0,
	}
}

// DefaultCapabilities is the safe assumption for an actuator that has not
// reported its features yet: positionable, open/close, no tilt.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		SetPosition: true,
		Open:        true,
		Close:       true,
	}
}
