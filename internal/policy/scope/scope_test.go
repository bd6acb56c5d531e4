package scope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyAllow(t *testing.T) {
	t.Parallel()

	p := New(Config{
		AllowDomains: []string{"films.example", "*.reviews.example", " "},
		DenyDomains:  []string{"ads.reviews.example"},
	})

	tests := []struct {
		address string
		want    bool
	}{
		{"https://films.example/movie/1", true},
		{"https://FILMS.example:8443/list", true},
		{"https://www.films.example/movie/1", false},
		{"https://reviews.example/movie/1", true},
		{"https://m.reviews.example/movie/1", true},
		{"https://ads.reviews.example/banner", false},
		{"https://other.example/movie/1", false},
		{"films.example/movie/2", true},
		{"", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, p.Allow(tt.address), tt.address)
	}
}

func TestPolicyDenyOnly(t *testing.T) {
	t.Parallel()

	p := New(Config{DenyDomains: []string{".tracker.example"}})
	require.True(t, p.Allow("site/movie/1"))
	require.True(t, p.Allow("https://films.example/movie/1"))
	require.False(t, p.Allow("https://tracker.example/px"))
	require.False(t, p.Allow("https://a.b.tracker.example/px"))
}

func TestNilPolicyAdmitsEverything(t *testing.T) {
	t.Parallel()

	var p *Policy
	require.True(t, p.Allow("https://anything.example"))
	require.True(t, New(Config{}).Allow(""))
}
