package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by recorder and engine spans.
const (
	GroupIDKey   = "dvb.group_id"
	TimerIDKey   = "dvb.timer_id"
	ChannelKey   = "dvb.channel"
	StartKey     = "dvb.start"
	DurationKey  = "dvb.duration_minutes"
	OperationKey = "dvb.operation"
	ResultKey    = "dvb.result"
)

// TimerAttributes describes the timer a call acts on. Zero values are omitted.
func TimerAttributes(group, id, channel uint32) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int64(GroupIDKey, int64(group))}
	if id != 0 {
		attrs = append(attrs, attribute.Int64(TimerIDKey, int64(id)))
	}
	if channel != 0 {
		attrs = append(attrs, attribute.Int64(ChannelKey, int64(channel)))
	}
	return attrs
}

// ScheduleAttributes describes a requested recording window.
func ScheduleAttributes(start string, minutes int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StartKey, start),
		attribute.Int(DurationKey, minutes),
	}
}

// ResultAttribute records the classified outcome of a call.
func ResultAttribute(result string) attribute.KeyValue {
	return attribute.String(ResultKey, result)
}
