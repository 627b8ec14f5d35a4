package protocol

import (
	"strconv"
	"strings"
)

// UserEntry is one element of a USER_LIST payload
type UserEntry struct {
	Name string
	ID   uint32
}

// EncodeUserList renders entries as "name:id,name:id"
func EncodeUserList(entries []UserEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.Name+":"+strconv.FormatUint(uint64(e.ID), 10))
	}
	return strings.Join(parts, ",")
}

// DecodeUserList parses a USER_LIST payload. Malformed entries are skipped.
// The id is taken after the last ':' so names may contain colons.
func DecodeUserList(payload string) []UserEntry {
	var entries []UserEntry
	for _, part := range strings.Split(payload, ",") {
		sep := strings.LastIndexByte(part, ':')
		if sep <= 0 {
			continue
		}
		id, err := strconv.ParseUint(part[sep+1:], 10, 32)
		if err != nil {
			continue
		}
		entries = append(entries, UserEntry{Name: part[:sep], ID: uint32(id)})
	}
	return entries
}
