package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasskey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		pin      string
		expected string
	}{
		{name: "short pin is padded", pin: "4242", expected: "004242"},
		{name: "six digits unchanged", pin: "123456", expected: "123456"},
		{name: "zero", pin: "0", expected: "000000"},
		{name: "not a number", pin: "abc", expected: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, passkey(tt.pin))
		})
	}
}
