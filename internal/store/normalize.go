// ABOUTME: Schema normalization pass run on every load and save
// ABOUTME: Migrates legacy field names and keeps deliveryContext and last* fields in sync

package store

import (
	"encoding/json"
	"strconv"
	"strings"
)

// legacyFields maps retired JSON names to the field that replaced them.
var legacyFields = map[string]string{
	"provider": "channel",
	"room":     "groupChannel",
}

// NormalizeStore normalizes every entry in place and drops nil entries.
// It reports whether anything changed.
func NormalizeStore(s Store) bool {
	changed := false
	for key, entry := range s {
		if entry == nil {
			delete(s, key)
			changed = true
			continue
		}
		if normalizeEntry(entry) {
			changed = true
		}
	}
	return changed
}

// normalizeEntry rewrites legacy fields and reconciles the delivery route.
func normalizeEntry(e *Entry) bool {
	changed := false

	for legacy, current := range legacyFields {
		raw, ok := e.Extra[legacy]
		if !ok {
			continue
		}
		delete(e.Extra, legacy)
		changed = true

		value := rawString(raw)
		switch current {
		case "channel":
			if e.Channel == "" {
				e.Channel = value
			}
		case "groupChannel":
			if e.GroupChannel == "" {
				e.GroupChannel = value
			}
		}
	}
	if len(e.Extra) == 0 {
		e.Extra = nil
	}

	if normalizeDelivery(e) {
		changed = true
	}
	return changed
}

// normalizeDelivery makes deliveryContext the source of truth for the flattened
// last* fields, building it from them when only the flattened form exists.
func normalizeDelivery(e *Entry) bool {
	if e.DeliveryContext.IsZero() {
		if e.DeliveryContext != nil {
			e.DeliveryContext = nil
		}
		if e.LastChannel == "" && e.LastTo == "" && e.LastAccountID == "" && e.LastThreadID == "" {
			return false
		}
		e.DeliveryContext = &DeliveryContext{
			Channel:   e.LastChannel,
			To:        e.LastTo,
			AccountID: e.LastAccountID,
			ThreadID:  e.LastThreadID,
		}
		return true
	}

	dc := e.DeliveryContext
	if e.LastChannel == dc.Channel && e.LastTo == dc.To &&
		e.LastAccountID == dc.AccountID && e.LastThreadID == dc.ThreadID {
		return false
	}
	e.LastChannel = dc.Channel
	e.LastTo = dc.To
	e.LastAccountID = dc.AccountID
	e.LastThreadID = dc.ThreadID
	return true
}

// rawString reads a legacy value that may have been written as a string or number.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}
