package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeUserList(t *testing.T) {
	assert.Equal(t, "", EncodeUserList(nil))
	assert.Equal(t, "alice:1", EncodeUserList([]UserEntry{{"alice", 1}}))
	assert.Equal(t, "alice:1,bob:2", EncodeUserList([]UserEntry{{"alice", 1}, {"bob", 2}}))
}

func TestDecodeUserList(t *testing.T) {
	testCases := []struct {
		name     string
		payload  string
		expected []UserEntry
	}{
		{"empty", "", nil},
		{"single", "alice:1", []UserEntry{{"alice", 1}}},
		{"multiple", "test_user:1,new_user:2", []UserEntry{{"test_user", 1}, {"new_user", 2}}},
		{"colon in name", "a:b:3", []UserEntry{{"a:b", 3}}},
		{"skips malformed", "alice,bob:x,:4,carol:5", []UserEntry{{"carol", 5}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DecodeUserList(tc.payload))
		})
	}
}
