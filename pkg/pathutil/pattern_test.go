package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainPattern_Matches(t *testing.T) {
	cases := []struct {
		pattern DomainPattern
		host    string
		want    bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "EXAMPLE.COM", true},
		{"example.com", "sub.example.com", false},
		{"*.example.com", "sub.example.com", true},
		{"*.example.com", "a.b.example.com", true},
		{"*.example.com", "example.com", true},
		{"*.example.com", "evilexample.com", false},
		{"*.example.com", "notexample.com", false},
		{"example.com", "example.com.", true},
	}
	for _, tc := range cases {
		t.Run(string(tc.pattern)+"/"+tc.host, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.pattern.Matches(tc.host))
		})
	}
}
