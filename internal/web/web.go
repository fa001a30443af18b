package web

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"mosque/internal/web/api"
	"mosque/internal/web/middleware"
)

type WebServer struct {
	router *gin.Engine
	srv    *http.Server
}

func NewWebServer(deps api.Dependencies) *WebServer {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), middleware.CORS())

	api.RegisterStatusRoutes(router, deps)
	api.RegisterDeviceRoutes(router, deps)
	api.RegisterAutomationRoutes(router, deps)
	api.RegisterPrayerRoutes(router, deps)
	api.RegisterFeedRoutes(router, deps)

	return &WebServer{router: router, srv: &http.Server{Handler: router}}
}

// Handler returns the HTTP handler of the API
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves on addr until Shutdown is called
func (ws *WebServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("WEB: Listening on %s", addr)
	if err := ws.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}
