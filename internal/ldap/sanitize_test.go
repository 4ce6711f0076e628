package ldap

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "jdoe", "jdoe"},
		{"empty", "", ""},
		{"wildcard", "*", ""},
		{"filter injection", "admin)(|(objectClass=*)", "adminobjectClass"},
		{"all specials", "()|&*=", ""},
		{"keeps other punctuation", "j.doe-01_x@corp\\", "j.doe-01_x@corp\\"},
		{"unicode", "joão(=)", "joão"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeProperty(t *testing.T) {
	alphabet := []rune("abcXYZ019 .-_@\\,+()|&*=é")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var b strings.Builder
		var kept []rune
		for j := 0; j < rng.Intn(24); j++ {
			r := alphabet[rng.Intn(len(alphabet))]
			b.WriteRune(r)
			if !strings.ContainsRune(filterSpecials, r) {
				kept = append(kept, r)
			}
		}

		got := Sanitize(b.String())
		assert.False(t, strings.ContainsAny(got, filterSpecials), "input %q", b.String())
		assert.Equal(t, string(kept), got, "input %q", b.String())
	}
}

func TestNewPrincipal(t *testing.T) {
	p := NewPrincipal("j*doe")
	assert.Equal(t, "j*doe", p.Raw)
	assert.Equal(t, "jdoe", p.Sanitized)
}
