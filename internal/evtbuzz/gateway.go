package evtbuzz

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/api/middleware"
	"github.com/reboot-codes/cloverhub/internal/perms"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate with a bearer key, not cookies, so any origin
	// may attempt the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway serves the health endpoint and upgrades authenticated HTTP
// connections onto the bus.
type Gateway struct {
	bus       *Bus
	store     *store.Store
	filter    *perms.Filter
	startedAt time.Time
}

// NewGateway creates the websocket gateway for a bus.
func NewGateway(bus *Bus, s *store.Store, filter *perms.Filter) *Gateway {
	return &Gateway{
		bus:       bus,
		store:     s,
		filter:    filter,
		startedAt: time.Now(),
	}
}

// apiError is the unified JSON error body.
type apiError struct {
	Detail string `json:"detail"`
}

// Routes builds the HTTP handler with the full middleware chain.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health-check", g.handleHealthCheck)
	r.Get("/ws", g.handleWS)

	return r
}

// ServerHealth is the health-check response body.
type ServerHealth struct {
	UpSince string `json:"up_since"`
}

func (g *Gateway) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ServerHealth{UpSince: iso8601(g.startedAt)})
}

// handleWS authenticates the upgrade request and hands the socket to a
// connection handler.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	user, key, client, ok := g.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Action not authorized")
		return
	}

	log.Info().Str("client", client.ID).Msg("Upgrading client to websocket connection")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		log.Error().Str("client", client.ID).Err(err).Msg("Websocket upgrade failed")
		g.store.SetClientActive(client.ID, false)
		return
	}

	c := &wsConn{
		gateway: g,
		conn:    conn,
		user:    user,
		key:     key,
		client:  client,
		outbox:  g.bus.RegisterOutbox(client.ID),
		done:    make(chan struct{}),
		started: iso8601(time.Now()),
	}
	go c.run()
}

// authenticate allocates a client record for the connection attempt and
// validates the Authorization header ("Token <key>"). On failure the
// client record is kept, inactive, for audit history.
func (g *Gateway) authenticate(r *http.Request) (models.User, models.APIKey, models.Client, bool) {
	clientID := g.store.GenerateClientID()
	client := models.Client{ID: clientID, Active: true}
	g.store.PutClient(client)

	log.Info().Str("client", clientID).Str("path", r.URL.Path).Msg("Client hit secure path, attempting authentication")

	header := r.Header.Get("Authorization")
	scheme, keyStr, found := strings.Cut(header, " ")
	if header == "" || !found || scheme != "Token" {
		log.Warn().Str("client", clientID).Msg("Client attempted to connect without an API key, disconnecting")
		g.store.SetClientActive(clientID, false)
		return models.User{}, models.APIKey{}, models.Client{}, false
	}

	key, ok := g.store.GetAPIKey(keyStr)
	if !ok {
		log.Warn().Str("client", clientID).Msg("Client attempted to connect with an invalid API key, disconnecting")
		g.store.SetClientActive(clientID, false)
		return models.User{}, models.APIKey{}, models.Client{}, false
	}

	user, ok := g.store.GetUser(key.UserID)
	if !ok {
		log.Error().Str("client", clientID).Str("user", key.UserID).Msg("API key's owner is missing from the store")
		g.store.SetClientActive(clientID, false)
		return models.User{}, models.APIKey{}, models.Client{}, false
	}

	client = models.Client{ID: clientID, APIKey: key.Key, UserID: user.ID, Active: true}
	g.store.PutClient(client)
	g.store.OpenSession(user.ID, clientID, key.Key, iso8601(time.Now()))

	log.Info().Str("client", clientID).Str("user", user.ID).Msg("Client authenticated")
	return user, key, client, true
}

// recoverer turns a handler panic into the same JSON error shape as every
// other failure, instead of chi's plain-text 500.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Detail: detail})
}
