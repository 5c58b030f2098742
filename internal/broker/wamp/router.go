package wamp

import (
	"fmt"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/rs/zerolog/log"
)

// Router relays offer calls between connected clients.
type Router struct {
	realm  string
	router router.Router
	wss    *router.WebsocketServer
}

func NewRouter(realm string) (*Router, error) {
	if realm == "" {
		realm = DefaultRealm
	}
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, newLogger("router"))
	if err != nil {
		return nil, fmt.Errorf("wamp router: %w", err)
	}
	log.Info().Str("module", "broker.wamp").Str("realm", realm).Msg("router started")

	return &Router{
		realm:  realm,
		router: nxr,
		wss:    router.NewWebsocketServer(nxr),
	}, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.wss.ServeHTTP(w, req)
}

func (r *Router) Realm() string { return r.realm }

func (r *Router) Close() {
	r.router.Close()
	log.Info().Str("module", "broker.wamp").Str("realm", r.realm).Msg("router closed")
}
