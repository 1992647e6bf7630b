package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrincipal(t *testing.T) {
	const checksummed = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	cases := map[string]struct {
		in   string
		want Principal
		ok   bool
	}{
		"checksummed": {checksummed, checksummed, true},
		"lowercase":   {"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", checksummed, true},
		"uppercase":   {"0XF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266", checksummed, true},
		"padded":      {"  " + checksummed + "\n", checksummed, true},
		"short hex":   {"0xabc", "0xabc", true},
		"plain name":  {"alice", "alice", true},
		"empty":       {"   ", "", false},
		"inner space": {"al ice", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := ParsePrincipal(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMarketSupersedes(t *testing.T) {
	base := Market{ID: 1, TotalYes: 100, TotalNo: 40}

	assert.True(t, base.Supersedes(base))
	assert.True(t, Market{TotalYes: 800, TotalNo: 40}.Supersedes(base))
	assert.True(t, Market{TotalYes: 100, TotalNo: 40, Resolved: true}.Supersedes(base))
	assert.False(t, base.Supersedes(Market{TotalYes: 800, TotalNo: 40}))
	assert.False(t, base.Supersedes(Market{TotalYes: 100, TotalNo: 41}))
	assert.False(t, base.Supersedes(Market{TotalYes: 100, TotalNo: 40, Resolved: true}))
}
