package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	intconfig "shuttle/internal/config"
	"shuttle/internal/domain"
	h "shuttle/internal/http/handlers"
	"shuttle/internal/http/middleware"
)

func NewRouter(env intconfig.Env, hd *h.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log), middleware.CORS(env.CORSAllowOrigins))

	if err := r.SetTrustedProxies(nil); err != nil {
		log.Warn("failed to set trusted proxies", zap.Error(err))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":      "route not found",
			"code":       "not_found",
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"request_id": middleware.GetRequestID(c),
		})
	})

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/routes", h.Routes)

		auth := api.Group("/auth")
		auth.POST("/register", hd.Register)
		auth.POST("/login", hd.Login)
		auth.GET("/me", middleware.Auth(hd.Auth), hd.Me)

		api.GET("/cities", hd.ListCities)
		api.GET("/journeys", hd.ListJourneys)
		api.GET("/journeys/:id", hd.GetJourney)

		authed := api.Group("", middleware.Auth(hd.Auth))

		bookings := authed.Group("/bookings")
		bookings.POST("", middleware.RequireCapability(domain.CapBook), hd.CreateBooking)
		bookings.GET("", middleware.RequireCapability(domain.CapListOwnBookings), hd.ListMyBookings)
		bookings.GET("/:id", hd.GetBooking)
		bookings.DELETE("/:id", middleware.RequireCapability(domain.CapCancelOwn), hd.CancelBooking)
		bookings.GET("/:id/e-ticket", hd.BookingETicket)

		driver := authed.Group("/driver", middleware.RequireCapability(domain.CapViewAssigned))
		driver.GET("/journeys", hd.DriverJourneys)
		driver.GET("/journeys/:id/passengers", hd.JourneyPassengers)

		admin := authed.Group("/admin")
		mountAdmin(admin, hd)
	}

	h.SetRouter(r)
	return r
}

func mountAdmin(g *gin.RouterGroup, hd *h.Handler) {
	journeys := g.Group("/journeys", middleware.RequireCapability(domain.CapManageJourneys))
	journeys.GET("", hd.AdminListJourneys)
	journeys.POST("", hd.CreateJourney)
	journeys.PUT("/:id", hd.UpdateJourney)
	journeys.DELETE("/:id", hd.DeleteJourney)
	journeys.POST("/:id/assign-driver", hd.AssignDriver)
	journeys.DELETE("/:id/driver", hd.UnassignDriver)
	journeys.GET("/:id/passengers", hd.JourneyPassengers)

	users := g.Group("", middleware.RequireCapability(domain.CapManageUsers))
	users.GET("/users", hd.ListUsers)
	users.PUT("/users/:id/role", hd.ChangeRole)
	users.DELETE("/users/:id", hd.DeleteUser)
	users.GET("/drivers", hd.ListDrivers)
	users.POST("/drivers", hd.CreateDriver)
	users.DELETE("/drivers/:id", hd.DeleteDriver)

	reports := g.Group("/reports", middleware.RequireCapability(domain.CapManageJourneys))
	reports.GET("/occupancy", hd.OccupancyReport)

	bookings := g.Group("/bookings", middleware.RequireCapability(domain.CapManageBookings))
	bookings.GET("", hd.AdminListBookings)
	bookings.PUT("/:id", hd.AdminUpdateBooking)
}
