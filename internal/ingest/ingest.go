// Package ingest normalizes raw alert webhook payloads from any
// recognized monitoring source into the canonical NormalizedAlert
// shape. Format detection dispatches on payload structure, never on a
// caller-supplied field, following the detect-then-convert adapter
// pattern used across the pack's webhook parsers.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arre-io/arre/pkg/types"
)

// ErrUnparseable is returned when no registered parser recognizes the
// payload shape.
var ErrUnparseable = errors.New("ingest: unparseable payload")

// FormatParser detects and converts one source's webhook shape.
type FormatParser interface {
	// Detect reports whether raw matches this parser's payload shape.
	Detect(raw []byte) bool

	// Parse converts a detected payload into a NormalizedAlert.
	// Source is always set by Parse, never read from the payload.
	Parse(raw []byte) (*types.NormalizedAlert, error)
}

// Normalizer dispatches a raw payload to the first parser that
// recognizes it.
type Normalizer struct {
	parsers []FormatParser
}

// New returns a Normalizer with the standard set of source parsers.
func New() *Normalizer {
	return &Normalizer{
		parsers: []FormatParser{
			&GrafanaParser{},
			&PagerdutyParser{},
			&DatadogParser{},
			&CloudWatchParser{},
		},
	}
}

// Normalize converts a raw webhook payload into a NormalizedAlert.
func (n *Normalizer) Normalize(raw []byte) (*types.NormalizedAlert, error) {
	for _, parser := range n.parsers {
		if !parser.Detect(raw) {
			continue
		}
		alert, err := parser.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		if alert.Fingerprint == "" {
			alert.Fingerprint = computeFingerprint(alert.Source, alert.AlertName, alert.Labels)
		}
		alert.ReceivedAt = time.Now()
		return alert, nil
	}
	return nil, ErrUnparseable
}

// TitleCase upper-cases the first rune and lower-cases the rest:
// "grafana" -> "Grafana", "PAGERDUTY" -> "Pagerduty".
func TitleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// computeFingerprint derives a stable fingerprint from source,
// alert_name, and the sorted grouping labels, used whenever the
// source payload does not supply one of its own.
func computeFingerprint(source, alertName string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{'|'})
	h.Write([]byte(alertName))
	for _, k := range keys {
		h.Write([]byte{'|'})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(labels[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
