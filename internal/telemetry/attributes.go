// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every span of the daemon.
const (
	ChannelKey  = "tvscribe.channel"
	ArtifactKey = "tvscribe.artifact"
	SourceKey   = "tvscribe.source"
	OutcomeKey  = "tvscribe.outcome"
	JobIDKey    = "tvscribe.job_id"
	TriggerKey  = "tvscribe.trigger"
	BackendKey  = "tvscribe.backend"
)

// ArtifactAttributes describes the artifact a span works on.
func ArtifactAttributes(channel, source, path string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(ChannelKey, channel)}
	if source != "" {
		attrs = append(attrs, attribute.String(SourceKey, source))
	}
	if path != "" {
		attrs = append(attrs, attribute.String(ArtifactKey, path))
	}
	return attrs
}

// JobAttributes describes a recording job.
func JobAttributes(jobID, channel, trigger string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(ChannelKey, channel),
		attribute.String(TriggerKey, trigger),
	}
}

// RecordError marks span as failed when err is not nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
