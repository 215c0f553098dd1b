// Metricus - Asynchronous Bulk Event Processing Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// fingerprintTimeFormat is RFC 3339 with exactly three fractional digits,
// applied after normalizing to UTC. The same instant always renders to
// the same string regardless of the zone it was parsed in.
const fingerprintTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Fingerprint derives the idempotency key for an event. It is a pure
// function of (userID, eventType, timestamp): batch, file name, and
// metadata never influence it, so the same logical event uploaded twice
// collapses onto one stored row.
func Fingerprint(userID, eventType string, timestamp time.Time) string {
	data := userID + ":" + eventType + ":" + timestamp.UTC().Format(fingerprintTimeFormat)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
