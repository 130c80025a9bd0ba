// Package models defines the shared domain types for the CloverHub daemon:
// the identity model (users, API keys, clients, sessions), the event fabric
// message shape, and the module/application records fed by compiled
// manifests.
package models

// ── Identity ────────────────────────────────────────────────

// User is a principal identity. Users own API keys and hold one Session per
// connected client. Keys and sessions are referenced by id to avoid cyclic
// pointers: User holds key strings, APIKey holds a user id, Session is keyed
// by client id.
type User struct {
	ID         string `json:"id"`
	PrettyName string `json:"pretty_name"`
	// UserType is a reverse-DNS tag, e.g. "com.reboot-codes.clover.evtbuzz".
	UserType string             `json:"user_type"`
	APIKeys  []string           `json:"api_keys"`
	Sessions map[string]Session `json:"sessions"`
}

// APIKey is an authorization credential owned by a user. The two pattern
// lists are ordered regular expressions; AllowedEventsTo filters delivery,
// AllowedEventsFrom filters publication. Echo controls whether the key's
// clients receive their own messages back.
type APIKey struct {
	Key               string   `json:"key"`
	UserID            string   `json:"user_id"`
	AllowedEventsTo   []string `json:"allowed_events_to"`
	AllowedEventsFrom []string `json:"allowed_events_from"`
	Echo              bool     `json:"echo"`
}

// KeySpec describes an API key to create alongside a user, before the key
// string is bound to an owner.
type KeySpec struct {
	Key               string   `json:"key"`
	AllowedEventsTo   []string `json:"allowed_events_to"`
	AllowedEventsFrom []string `json:"allowed_events_from"`
	Echo              bool     `json:"echo"`
}

// UserConfig is the input to Store.AddUser.
type UserConfig struct {
	ID         string    `json:"id"`
	UserType   string    `json:"user_type"`
	PrettyName string    `json:"pretty_name"`
	APIKeys    []KeySpec `json:"api_keys"`
}

// CoreUser carries the credentials of one internal subsystem user
// (evtbuzz, arbiter, renderer, ...). Each subsystem authenticates its bus
// traffic with these.
type CoreUser struct {
	ID     string `json:"id"`
	APIKey string `json:"api_key"`
}

// CoreUsers holds the credentials of every internal subsystem. All seven
// are created before the bus starts so internal channels can reference them.
type CoreUsers struct {
	EvtBuzz         CoreUser
	Arbiter         CoreUser
	Renderer        CoreUser
	AppD            CoreUser
	ModMan          CoreUser
	InferenceEngine CoreUser
	Warehouse       CoreUser
}

// Client is one connection instance. Created at HTTP upgrade with empty
// credentials; credentials are filled on successful auth. Active flips to
// false on close or on mid-session key revocation — the record itself is
// retained for audit history.
type Client struct {
	ID     string `json:"id"`
	APIKey string `json:"api_key"`
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
}

// Session is one interval of a client being connected. EndTime is empty
// while the session is open. Times are ISO-8601 strings.
type Session struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	APIKey    string `json:"api_key"`
}

// ── Event fabric ────────────────────────────────────────────

// Message is one event on the fabric.
//
// Author is a URL: "ws:<user-id>?client=<client-id>" for client-origin
// messages, or a symbolic subsystem domain for internal origin. Kind is a
// "clover://" URL whose host identifies the target subsystem and whose path
// selects the event type.
type Message struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WsIn is the client→server websocket payload, and the record serialized
// onto hardware buses. ReplyingTo carries the id of the message being
// answered on bus transports; it is empty on plain websocket sends.
type WsIn struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	ReplyingTo string `json:"replying_to,omitempty"`
}

// ── Catalogue ───────────────────────────────────────────────

// Module is a hardware module registered by ModMan from a compiled manifest.
type Module struct {
	ModuleType   string               `json:"module_type"`
	PrettyName   string               `json:"pretty_name"`
	Initialized  bool                 `json:"initialized"`
	Components   map[string]Component `json:"components"`
	RegisteredBy string               `json:"registered_by"`
}

// Component classifies a module sub-device.
type Component string

const (
	ComponentAudio    Component = "audio"
	ComponentVideo    Component = "video"
	ComponentSensor   Component = "sensor"
	ComponentMovement Component = "movement"
)

// Application is an app registered by AppD from a compiled manifest.
type Application struct {
	ID          string                     `json:"id"`
	Version     string                     `json:"version"`
	Name        string                     `json:"name"`
	Containers  map[string]ContainerConfig `json:"containers"`
	Initialized bool                       `json:"initialized"`
}

// ContainerConfig describes one container an application runs. Container
// build/run mechanics live outside the hub; only the declarative shape is
// kept here.
type ContainerConfig struct {
	Interface bool         `json:"interface"`
	Build     *BuildConfig `json:"build,omitempty"`
}

// BuildConfig points at a container image repo or source git repo.
type BuildConfig struct {
	URL   string     `json:"url"`
	Creds *RepoCreds `json:"creds,omitempty"`
}

// RepoCreds are optional credentials for a repo URL. Key is either an API
// key or a password.
type RepoCreds struct {
	Username string `json:"username,omitempty"`
	Key      string `json:"key"`
}
