// Package store provides the process-wide shared state for CloverHub.
//
// Each table is guarded by its own lock so that, for example, the dispatch
// loop reading clients never contends with manifest compilation writing
// repos. Locks are held only for the minimal critical section and never
// across a channel send or other await point — dispatchers take snapshots
// and iterate outside the lock.
package store

import (
	"sync"

	"github.com/reboot-codes/cloverhub/internal/config"
	"github.com/reboot-codes/cloverhub/internal/warehouse/manifest"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// Store holds every live table. Zero value is not usable; call New.
type Store struct {
	usersMu sync.RWMutex
	users   map[string]models.User

	keysMu  sync.RWMutex
	apiKeys map[string]models.APIKey

	clientsMu sync.RWMutex
	clients   map[string]models.Client

	messagesMu sync.RWMutex
	messages   map[string]models.Message

	modulesMu sync.RWMutex
	modules   map[string]models.Module

	appsMu       sync.RWMutex
	applications map[string]models.Application

	reposMu sync.RWMutex
	repos   map[string]manifest.Manifest

	configMu sync.RWMutex
	config   config.File
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]models.User),
		apiKeys:      make(map[string]models.APIKey),
		clients:      make(map[string]models.Client),
		messages:     make(map[string]models.Message),
		modules:      make(map[string]models.Module),
		applications: make(map[string]models.Application),
		repos:        make(map[string]manifest.Manifest),
		config:       config.DefaultFile(),
	}
}

// ── Users & API keys ────────────────────────────────────────

// AddUser inserts a user and every key it declares. Key ownership is bound
// here: each inserted APIKey points back at the user id, and the user's key
// list holds the key strings.
func (s *Store) AddUser(cfg models.UserConfig) {
	keyIDs := make([]string, 0, len(cfg.APIKeys))
	for _, spec := range cfg.APIKeys {
		keyIDs = append(keyIDs, spec.Key)
	}

	s.usersMu.Lock()
	s.users[cfg.ID] = models.User{
		ID:         cfg.ID,
		PrettyName: cfg.PrettyName,
		UserType:   cfg.UserType,
		APIKeys:    keyIDs,
		Sessions:   make(map[string]models.Session),
	}
	s.usersMu.Unlock()

	s.keysMu.Lock()
	for _, spec := range cfg.APIKeys {
		s.apiKeys[spec.Key] = models.APIKey{
			Key:               spec.Key,
			UserID:            cfg.ID,
			AllowedEventsTo:   spec.AllowedEventsTo,
			AllowedEventsFrom: spec.AllowedEventsFrom,
			Echo:              spec.Echo,
		}
	}
	s.keysMu.Unlock()
}

// GetUser looks up a user by id.
func (s *Store) GetUser(id string) (models.User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// GetAPIKey looks up a key record by its key string.
func (s *Store) GetAPIKey(key string) (models.APIKey, bool) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	k, ok := s.apiKeys[key]
	return k, ok
}

// RemoveAPIKey deletes a key record. Clients authenticated with it are not
// touched here; the dispatcher notices the missing key and unauthorizes
// them on the next delivery attempt.
func (s *Store) RemoveAPIKey(key string) {
	s.keysMu.Lock()
	delete(s.apiKeys, key)
	s.keysMu.Unlock()
}

// ── Clients & sessions ──────────────────────────────────────

// PutClient inserts or replaces a client record.
func (s *Store) PutClient(c models.Client) {
	s.clientsMu.Lock()
	s.clients[c.ID] = c
	s.clientsMu.Unlock()
}

// GetClient looks up a client by id.
func (s *Store) GetClient(id string) (models.Client, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// SetClientActive flips a client's active flag, keeping the record for
// audit history.
func (s *Store) SetClientActive(id string, active bool) {
	s.clientsMu.Lock()
	if c, ok := s.clients[id]; ok {
		c.Active = active
		s.clients[id] = c
	}
	s.clientsMu.Unlock()
}

// ClientsSnapshot returns a copy of the client table. Dispatchers iterate
// the copy instead of holding the lock through the loop.
func (s *Store) ClientsSnapshot() map[string]models.Client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	snap := make(map[string]models.Client, len(s.clients))
	for id, c := range s.clients {
		snap[id] = c
	}
	return snap
}

// OpenSession records the start of a client's connected interval under its
// user.
func (s *Store) OpenSession(userID, clientID, apiKey, startTime string) {
	s.usersMu.Lock()
	if u, ok := s.users[userID]; ok {
		u.Sessions[clientID] = models.Session{
			StartTime: startTime,
			APIKey:    apiKey,
		}
	}
	s.usersMu.Unlock()
}

// CloseSession stamps the end time on an open session.
func (s *Store) CloseSession(userID, clientID, endTime string) {
	s.usersMu.Lock()
	if u, ok := s.users[userID]; ok {
		if sess, ok := u.Sessions[clientID]; ok {
			sess.EndTime = endTime
			u.Sessions[clientID] = sess
		}
	}
	s.usersMu.Unlock()
}

// ── Messages ────────────────────────────────────────────────

// PutMessage records a message in the live message table.
func (s *Store) PutMessage(m models.Message) {
	s.messagesMu.Lock()
	s.messages[m.ID] = m
	s.messagesMu.Unlock()
}

// NewMessage builds a message authored by an internal subsystem user,
// stamps a fresh id, and records it. The author is the user's symbolic
// reverse-DNS type, per the internal-origin author convention.
func (s *Store) NewMessage(user models.CoreUser, kind, body string) models.Message {
	author := user.ID
	if u, ok := s.GetUser(user.ID); ok {
		author = u.UserType
	}
	msg := models.Message{
		ID:      s.GenerateMessageID(),
		Author:  author,
		Kind:    kind,
		Message: body,
	}
	s.PutMessage(msg)
	return msg
}

// GetMessage looks up a message by id.
func (s *Store) GetMessage(id string) (models.Message, bool) {
	s.messagesMu.RLock()
	defer s.messagesMu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// ── Catalogue ───────────────────────────────────────────────

// PutModule registers a module under its reverse-DNS id.
func (s *Store) PutModule(id string, m models.Module) {
	s.modulesMu.Lock()
	s.modules[id] = m
	s.modulesMu.Unlock()
}

// Modules returns a copy of the module table.
func (s *Store) Modules() map[string]models.Module {
	s.modulesMu.RLock()
	defer s.modulesMu.RUnlock()
	snap := make(map[string]models.Module, len(s.modules))
	for id, m := range s.modules {
		snap[id] = m
	}
	return snap
}

// PutApplication registers an application under its reverse-DNS id.
func (s *Store) PutApplication(id string, a models.Application) {
	s.appsMu.Lock()
	s.applications[id] = a
	s.appsMu.Unlock()
}

// Applications returns a copy of the application table.
func (s *Store) Applications() map[string]models.Application {
	s.appsMu.RLock()
	defer s.appsMu.RUnlock()
	snap := make(map[string]models.Application, len(s.applications))
	for id, a := range s.applications {
		snap[id] = a
	}
	return snap
}

// PutRepo stores a compiled manifest under its repo id.
func (s *Store) PutRepo(id string, m manifest.Manifest) {
	s.reposMu.Lock()
	s.repos[id] = m
	s.reposMu.Unlock()
}

// GetRepo looks up a compiled manifest by repo id.
func (s *Store) GetRepo(id string) (manifest.Manifest, bool) {
	s.reposMu.RLock()
	defer s.reposMu.RUnlock()
	m, ok := s.repos[id]
	return m, ok
}

// Repos returns a copy of the compiled manifest table.
func (s *Store) Repos() map[string]manifest.Manifest {
	s.reposMu.RLock()
	defer s.reposMu.RUnlock()
	snap := make(map[string]manifest.Manifest, len(s.repos))
	for id, m := range s.repos {
		snap[id] = m
	}
	return snap
}

// RepoCount reports how many compiled manifests are loaded.
func (s *Store) RepoCount() int {
	s.reposMu.RLock()
	defer s.reposMu.RUnlock()
	return len(s.repos)
}

// ── Configuration ───────────────────────────────────────────

// Config returns the current data-dir configuration record.
func (s *Store) Config() config.File {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

// SetConfig replaces the configuration record (set once by the Warehouse
// during setup).
func (s *Store) SetConfig(f config.File) {
	s.configMu.Lock()
	s.config = f
	s.configMu.Unlock()
}
