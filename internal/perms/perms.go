// Package perms evaluates API-key permission patterns against message kinds.
//
// Every API key carries two ordered regex whitelists: allowed_events_to
// filters what the key's clients may receive, allowed_events_from filters
// what they may publish. A pattern that fails to compile never grants
// permission; it is logged once per key+pattern and treated as non-matching.
package perms

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/pkg/models"
)

// Decision is the outcome of a delivery check for one client.
type Decision int

const (
	// Deliver: a pattern in allowed_events_to matched the kind.
	Deliver Decision = iota
	// Skip: no pattern matched (or the author is this client and echo is off).
	Skip
	// Echo: the author is this client and the key has echo enabled.
	Echo
	// DenyMissingKey: the client's key record is gone from the store.
	DenyMissingKey
)

// Filter caches compiled patterns and dedups invalid-pattern log lines.
type Filter struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
	// invalid remembers key+pattern pairs already logged as broken so a bad
	// pattern does not flood the log on every message.
	invalid map[string]struct{}
}

// NewFilter creates an empty permission filter.
func NewFilter() *Filter {
	return &Filter{
		compiled: make(map[string]*regexp.Regexp),
		invalid:  make(map[string]struct{}),
	}
}

// MayDeliver decides whether a message may be delivered to the client
// identified by clientID, authenticated with key.
//
// The author comparison runs first: a client's own messages come back only
// as Echo (when the key allows it), never as a regular delivery.
func (f *Filter) MayDeliver(key *models.APIKey, clientID string, msg *models.Message) Decision {
	if key == nil {
		return DenyMissingKey
	}

	if AuthorClientID(msg.Author) == clientID {
		if key.Echo {
			return Echo
		}
		return Skip
	}

	if f.matchAny(key.Key, key.AllowedEventsTo, msg.Kind) {
		return Deliver
	}
	return Skip
}

// MaySend reports whether the key permits publishing a message of the given
// kind.
func (f *Filter) MaySend(key *models.APIKey, kind string) bool {
	if key == nil {
		return false
	}
	return f.matchAny(key.Key, key.AllowedEventsFrom, kind)
}

// matchAny tests kind against each pattern in order, returning true on the
// first match.
func (f *Filter) matchAny(keyID string, patterns []string, kind string) bool {
	for _, pattern := range patterns {
		re, ok := f.compile(keyID, pattern)
		if !ok {
			continue
		}
		if re.MatchString(kind) {
			return true
		}
	}
	return false
}

func (f *Filter) compile(keyID, pattern string) (*regexp.Regexp, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if re, ok := f.compiled[pattern]; ok {
		return re, true
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		mark := keyID + "\x00" + pattern
		if _, seen := f.invalid[mark]; !seen {
			f.invalid[mark] = struct{}{}
			log.Warn().
				Str("pattern", pattern).
				Err(err).
				Msg("Invalid permission pattern, treating as non-matching")
		}
		return nil, false
	}

	f.compiled[pattern] = re
	return re, true
}

// AuthorClientID extracts the client id from an author URL of the form
// "ws:<user-id>?client=<client-id>". Internal authors have no client
// segment and yield an empty string.
func AuthorClientID(author string) string {
	_, cid, found := strings.Cut(author, "?client=")
	if !found {
		return ""
	}
	return cid
}
