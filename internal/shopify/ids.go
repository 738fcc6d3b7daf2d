package shopify

import (
	"strconv"
	"strings"
)

const gidPrefix = "gid://shopify/"

// Resource names used in global ids.
const (
	ResourceOrder      = "Order"
	ResourceDraftOrder = "DraftOrder"
	ResourceLineItem   = "LineItem"
)

// GID normalises id into a global id for resource. Numeric ids are
// expanded, global ids are returned as given.
func GID(resource, id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || strings.HasPrefix(trimmed, gidPrefix) {
		return trimmed
	}
	if _, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return gidPrefix + resource + "/" + trimmed
	}
	return trimmed
}

// ValidGID reports whether id is a global id for resource.
func ValidGID(resource, id string) bool {
	prefix := gidPrefix + resource + "/"
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	_, err := strconv.ParseInt(legacyID(id), 10, 64)
	return err == nil
}

// legacyID returns the numeric tail of a global id, dropping any query string.
func legacyID(gid string) string {
	tail := gid
	if idx := strings.LastIndex(gid, "/"); idx >= 0 {
		tail = gid[idx+1:]
	}
	if idx := strings.Index(tail, "?"); idx >= 0 {
		tail = tail[:idx]
	}
	return tail
}

// SameLine reports whether a LineItem id and a CalculatedLineItem id refer
// to the same order line.
func SameLine(lineItemID, calculatedID string) bool {
	a, b := legacyID(lineItemID), legacyID(calculatedID)
	return a != "" && a == b
}
