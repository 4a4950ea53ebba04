// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	SessionIDKey   = "session.id"
	SessionKindKey = "session.kind"

	CatalogEndpointKey = "catalog.endpoint"
	CatalogTrackKey    = "catalog.track_id"
	CatalogCacheKey    = "catalog.cache"

	TTSVoiceKey = "tts.voice"
	TTSCacheKey = "tts.cache"
	TTSCharsKey = "tts.chars"

	ErrorTypeKey = "error.type"
)

func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

func SessionAttributes(id, kind string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if id != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, id))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(SessionKindKey, kind))
	}
	return attrs
}

func CatalogAttributes(endpoint, trackID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CatalogEndpointKey, endpoint),
		attribute.String(CatalogTrackKey, trackID),
	}
}

func TTSAttributes(voice string, chars int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TTSVoiceKey, voice),
		attribute.Int(TTSCharsKey, chars),
	}
}
