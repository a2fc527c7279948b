// Package observability exposes pipeline metrics through OpenTelemetry with
// a Prometheus exporter.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrProfile = "profile"
	attrStatus  = "status"
	attrStage   = "stage"
	attrState   = "state"
	attrKind    = "kind"
)

func profileAttr(profile string) attribute.KeyValue {
	return attribute.String(attrProfile, profile)
}

func statusAttr(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

// kindAttr keeps error kinds to the fixed set services.Kind produces.
func kindAttr(kind string) attribute.KeyValue {
	if kind == "" {
		kind = "none"
	}
	return attribute.String(attrKind, kind)
}

// WithStage returns a metric option with the stage attribute.
func WithStage(stage string) metric.MeasurementOption {
	return metric.WithAttributes(stageAttr(stage))
}
