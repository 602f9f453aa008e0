// Package mztrace contains the OpenTelemetry helpers used by the builder.
package mztrace

import (
	"fmt"
	"time"

	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// TracerName identifies spans created by this module.
const TracerName = "github.com/gordian-engine/merklize"

// NopTracerProvider returns the otel no-op tracer provider,
// used when no tracer provider is configured.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// so that callers only need to reference the mztrace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// LazyHexAttr returns an attribute that formats val with %x.
// Callers guard it with Span.IsRecording to skip the formatting entirely.
func LazyHexAttr(key string, val any) KeyValueAttr {
	return otelattr.Stringer(key, lazyHex{val: val})
}

type lazyHex struct {
	val any
}

func (h lazyHex) String() string {
	return fmt.Sprintf("%x", h.val)
}

// SpanError sets span to error status
// and records err on it.
func SpanError(span Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

func LeavesAttr(n int) KeyValueAttr {
	return otelattr.Int("merklize.leaves", n)
}

func GroupSizeAttr(g int) KeyValueAttr {
	return otelattr.Int("merklize.group_size", g)
}

func RoundsAttr(r int) KeyValueAttr {
	return otelattr.Int("merklize.rounds", r)
}

func RoundAttr(r int) KeyValueAttr {
	return otelattr.Int("merklize.round", r)
}

func ItemsAttr(n int) KeyValueAttr {
	return otelattr.Int("merklize.items", n)
}

func OutputAttr(mode fmt.Stringer) KeyValueAttr {
	return otelattr.Stringer("merklize.output", mode)
}

func DeviceAttr(name string) KeyValueAttr {
	return otelattr.String("merklize.device", name)
}

// DurationAttr records d in nanoseconds.
func DurationAttr(key string, d time.Duration) KeyValueAttr {
	return otelattr.Int64(key, d.Nanoseconds())
}
