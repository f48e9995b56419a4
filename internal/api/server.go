// Package api exposes one execution context over a local HTTP API for UI
// collaborators, plus a server-sent event stream of change notifications.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/notify"
	"github.com/ucasvieira/locadora/internal/service"
)

// Server wires services into gin handlers.
type Server struct {
	auth    service.AuthService
	catalog service.CatalogService
	rentals service.RentalService
	bus     *notify.Bus
	log     *zap.Logger
}

// New constructs a Server with injected services.
func New(auth service.AuthService, catalog service.CatalogService, rentals service.RentalService, bus *notify.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, catalog: catalog, rentals: rentals, bus: bus, log: log}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(Recover(s.log), Logging(s.log))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api")
	{
		api.GET("/movies", s.listMovies)
		api.GET("/movies/:id", s.getMovie)
		api.GET("/categories", s.categories)

		admin := api.Group("", s.requireAdmin)
		admin.POST("/movies", s.addMovie)
		admin.PUT("/movies/:id", s.updateMovie)
		admin.DELETE("/movies/:id", s.removeMovie)
		admin.POST("/movies/restore", s.restoreMovie)

		api.POST("/auth/login", s.login)
		api.POST("/auth/logout", s.logout)
		api.GET("/auth/session", s.session)
		api.POST("/auth/register", s.register)

		api.GET("/users", s.listUsers)
		api.DELETE("/users/:username", s.deleteUser)
		api.PUT("/users/:username/role", s.updateRole)

		rentals := api.Group("/rentals", s.requireSession)
		rentals.GET("", s.listRentals)
		rentals.POST("", s.createRental)
		rentals.PATCH("/:id", s.updateRental)
		rentals.DELETE("/:id", s.deleteRental)

		api.GET("/events", s.events)
	}
	return r
}
