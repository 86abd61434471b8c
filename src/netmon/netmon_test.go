package netmon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectPath(t *testing.T) {
	tests := []struct {
		index int32
		path  string
	}{
		{1, "/org/freedesktop/network1/link/_31"},
		{3, "/org/freedesktop/network1/link/_33"},
		{13, "/org/freedesktop/network1/link/_313"},
		{104, "/org/freedesktop/network1/link/_3104"},
	}

	for _, tt := range tests {
		// Only the leading digit is hex-escaped, the rest stays literal.
		assert.Equal(t, tt.path, ObjectPath(tt.index))
	}
}
