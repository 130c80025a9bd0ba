package perms_test

import (
	"testing"

	"github.com/reboot-codes/cloverhub/internal/perms"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

func key(to, from []string, echo bool) *models.APIKey {
	return &models.APIKey{
		Key:               "CLOVER:test",
		UserID:            "u1",
		AllowedEventsTo:   to,
		AllowedEventsFrom: from,
		Echo:              echo,
	}
}

func msg(author, kind string) *models.Message {
	return &models.Message{ID: "m1", Author: author, Kind: kind}
}

func TestMayDeliver(t *testing.T) {
	tests := []struct {
		name     string
		key      *models.APIKey
		clientID string
		msg      *models.Message
		want     perms.Decision
	}{
		{
			name:     "pattern match delivers",
			key:      key([]string{"clover://a/.*"}, nil, false),
			clientID: "c1",
			msg:      msg("ws:u2?client=c2", "clover://a/foo"),
			want:     perms.Deliver,
		},
		{
			name:     "no pattern match skips",
			key:      key([]string{"clover://a/.*"}, nil, false),
			clientID: "c1",
			msg:      msg("ws:u2?client=c2", "clover://b/foo"),
			want:     perms.Skip,
		},
		{
			name:     "own message with echo",
			key:      key([]string{"clover://a/.*"}, nil, true),
			clientID: "c1",
			msg:      msg("ws:u1?client=c1", "clover://a/foo"),
			want:     perms.Echo,
		},
		{
			// Echo is allowed even when no allowed_events_to pattern
			// matches; the author comparison runs first.
			name:     "own message with echo and no matching pattern",
			key:      key([]string{"clover://never/.*"}, nil, true),
			clientID: "c1",
			msg:      msg("ws:u1?client=c1", "clover://a/foo"),
			want:     perms.Echo,
		},
		{
			name:     "own message without echo",
			key:      key([]string{".*"}, nil, false),
			clientID: "c1",
			msg:      msg("ws:u1?client=c1", "clover://a/foo"),
			want:     perms.Skip,
		},
		{
			name:     "missing key",
			key:      nil,
			clientID: "c1",
			msg:      msg("ws:u2?client=c2", "clover://a/foo"),
			want:     perms.DenyMissingKey,
		},
		{
			name:     "invalid pattern never grants",
			key:      key([]string{"("}, nil, false),
			clientID: "c1",
			msg:      msg("ws:u2?client=c2", "clover://a/foo"),
			want:     perms.Skip,
		},
		{
			name:     "invalid pattern then valid pattern",
			key:      key([]string{"(", "clover://a/.*"}, nil, false),
			clientID: "c1",
			msg:      msg("ws:u2?client=c2", "clover://a/foo"),
			want:     perms.Deliver,
		},
		{
			name:     "wildcard delivers everything",
			key:      key([]string{".*"}, nil, false),
			clientID: "c1",
			msg:      msg("ws:u2?client=c2", "clover://anything/at/all"),
			want:     perms.Deliver,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := perms.NewFilter()
			if got := f.MayDeliver(tc.key, tc.clientID, tc.msg); got != tc.want {
				t.Errorf("MayDeliver() = %v, want %v", got, tc.want)
			}
			// Determinism: the same inputs always produce the same answer.
			if got := f.MayDeliver(tc.key, tc.clientID, tc.msg); got != tc.want {
				t.Errorf("MayDeliver() second call = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMaySend(t *testing.T) {
	tests := []struct {
		name string
		key  *models.APIKey
		kind string
		want bool
	}{
		{"match", key(nil, []string{"clover://a/.*"}, false), "clover://a/foo", true},
		{"no match", key(nil, []string{"clover://a/.*"}, false), "clover://b/foo", false},
		{"wildcard", key(nil, []string{".*"}, false), "clover://b/foo", true},
		{"invalid pattern", key(nil, []string{"("}, false), "clover://a/foo", false},
		{"empty list", key(nil, nil, false), "clover://a/foo", false},
		{"missing key", nil, "clover://a/foo", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := perms.NewFilter()
			if got := f.MaySend(tc.key, tc.kind); got != tc.want {
				t.Errorf("MaySend() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAuthorClientID(t *testing.T) {
	tests := []struct {
		author string
		want   string
	}{
		{"ws:u1?client=c1", "c1"},
		{"com.reboot-codes.clover.evtbuzz", ""},
		{"", ""},
	}

	for _, tc := range tests {
		if got := perms.AuthorClientID(tc.author); got != tc.want {
			t.Errorf("AuthorClientID(%q) = %q, want %q", tc.author, got, tc.want)
		}
	}
}
