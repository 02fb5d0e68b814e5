package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"medintake-chatbot/internal/core"
)

// Side-channel headers of the chat endpoint.
const (
	HeaderSessionID   = "X-Session-ID"
	HeaderChatStage   = "X-Chat-Stage"
	HeaderPatientData = "X-Patient-Data"
)

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to an http.Server.
type Server struct {
	Chat *core.ChatService
	Log  zerolog.Logger
	echo *echo.Echo
}

// NewServer wires middleware and routes.
func NewServer(chat *core.ChatService, log zerolog.Logger, corsOrigins []string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(log))
	e.Use(echomw.RequestID())
	e.Use(RequestLogger(log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  corsOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderXRequestID},
		ExposeHeaders: []string{HeaderSessionID, HeaderChatStage, HeaderPatientData},
	}))

	s := &Server{Chat: chat, Log: log, echo: e}
	e.POST("/chat", s.handleChat)
	e.POST("/save-chat", s.handleSave)
	e.GET("/patients/:id", s.handleLookup)
	e.GET("/sessions/:id/transcript.csv", s.handleExport)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
