package server

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/webhangin/backend/internal/config"
	"github.com/webhangin/backend/internal/protocol"
	"github.com/webhangin/backend/internal/room"
	"github.com/webhangin/backend/internal/session"
	"github.com/webhangin/backend/internal/sfu"
)

// IceSource yields the ICE server list handed to joining clients.
// *ice.Provider satisfies it.
type IceSource interface {
	Fetch(ctx context.Context) []protocol.IceServer
}

type Server struct {
	cfg      *config.Config
	registry *room.Registry
	ice      IceSource
	media    sfu.MediaConfig
}

func New(cfg *config.Config, registry *room.Registry, ice IceSource) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		ice:      ice,
		media:    sfu.DefaultMediaConfig(),
	}
}

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) SetupRouter() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(s.cfg.Secret))
	r.Use(sessions.Sessions("HanginSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "webhangin signaling server")
	})
	r.GET("/stream", s.handleStream)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// handleStream validates the join parameters, places the player in a room
// by activity and hands the upgraded connection to a session. The request
// is refused before the upgrade when a required parameter is missing.
func (s *Server) handleStream(c *gin.Context) {
	q := c.Request.URL.Query()

	required := []string{"name", "color", "activity", "eyeStyle", "noseStyle", "mouthStyle"}
	for _, key := range required {
		if q.Get(key) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter: " + key})
			return
		}
	}
	characterType := q.Get("characterType")
	if characterType == "" {
		characterType = "cat"
	}

	prototype := protocol.PlayerData{
		Name:     q.Get("name"),
		Color:    q.Get("color"),
		Activity: q.Get("activity"),
		FacialFeatures: protocol.FacialFeatures{
			EyeStyle:      q.Get("eyeStyle"),
			NoseStyle:     q.Get("noseStyle"),
			MouthStyle:    q.Get("mouthStyle"),
			CharacterType: characterType,
		},
	}

	roomID, theme := room.RouteActivity(prototype.Activity)
	rm, err := s.registry.CreateOrGet(roomID, theme, s.media)
	if err != nil {
		log.Error().Err(err).Str("module", "server").Str("room", roomID).Msg("room setup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room unavailable"})
		return
	}

	iceServers := s.ice.Fetch(c.Request.Context())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "server").Msg("ws upgrade")
		return
	}

	log.Info().
		Str("module", "server").
		Str("sid", c.GetString("client_token")).
		Str("name", prototype.Name).
		Str("room", roomID).
		Msg("new stream connection")

	sess, err := session.New(ws, s.registry, rm, prototype, iceServers, session.Options{
		ReadLimit:  s.cfg.ReadLimit,
		PingPeriod: s.cfg.PingPeriod,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "server").Msg("session setup")
		_ = ws.Close()
		return
	}
	sess.Run()
}
