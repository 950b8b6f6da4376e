package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/directory"
	"charging-kiosk/internal/domain"
	"charging-kiosk/internal/events"
	"charging-kiosk/internal/ledger"
	"charging-kiosk/internal/rfid"
	"charging-kiosk/internal/session"
)

// Handler wires HTTP routes to the kiosk services.
type Handler struct {
	ledger      *ledger.Ledger
	coordinator *session.Coordinator
	source      *rfid.Source
	bus         *events.Bus
	auth        *Auth
	keepalive   time.Duration
	permissive  bool
	hardwareOK  bool
	logger      *logrus.Logger
}

type Options struct {
	Keepalive  time.Duration
	Permissive bool
	HardwareOK bool
	Logger     *logrus.Logger
}

func NewHandler(l *ledger.Ledger, c *session.Coordinator, s *rfid.Source, bus *events.Bus, auth *Auth, opts Options) *Handler {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Handler{
		ledger:      l,
		coordinator: c,
		source:      s,
		bus:         bus,
		auth:        auth,
		keepalive:   opts.Keepalive,
		permissive:  opts.Permissive,
		hardwareOK:  opts.HardwareOK,
		logger:      opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.POST("/auth/login", h.auth.Login)

		api.POST("/rfid/scan", h.scan)
		api.GET("/rfid/stream", h.stream)

		api.GET("/charging/status", h.chargingStatus)
		api.POST("/charging/start", h.startCharging)
		api.POST("/charging/stop", h.stopCharging)

		api.GET("/users", h.listUsers)
		api.GET("/users/:id", h.getUser)
		api.GET("/users/rfid/:cardId", h.getUserByCard)
		api.PUT("/users/:id/balance", h.auth.RequireAdmin(), h.setBalance)

		api.GET("/cache", h.cacheInfo)
		api.DELETE("/cache", h.auth.RequireAdmin(), h.clearCache)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"hardware_available": h.hardwareOK,
		"charging":           h.coordinator.Status().Active,
	})
}

func (h *Handler) scan(c *gin.Context) {
	result, err := h.source.ScanOnce(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, rfid.ErrUnauthorizedCard):
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Unauthorized card",
				"cardId":  result.CardID,
			})
		case errors.Is(err, rfid.ErrChargingConflict):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, session.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"success": false,
				"error":   "Insufficient balance",
				"user":    result.User,
			})
		case errors.Is(err, directory.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Directory unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	message := "Charging started"
	if result.Action == rfid.ActionStopped {
		message = "Charging stopped"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"action":  result.Action,
		"user":    result.User,
		"message": message,
	})
}

func (h *Handler) stream(c *gin.Context) {
	sub := h.bus.Subscribe()
	defer sub.Close()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Errorf("marshal event: %v", err)
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			c.Writer.Flush()
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}

func (h *Handler) chargingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Status())
}

type startChargingRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *Handler) startCharging(c *gin.Context) {
	var req startChargingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	user, err := h.ledger.GetByID(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Directory unavailable"})
		return
	}

	switch err := h.coordinator.Start(*user); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
	case errors.Is(err, session.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) stopCharging(c *gin.Context) {
	result, stopped := h.coordinator.Stop(c.Request.Context())
	if !stopped {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No charging in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Charging stopped",
		"user":       result.User,
		"deducted":   result.Deducted,
		"newBalance": result.NewBalance,
	})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.ledger.Users(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Directory unavailable"})
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.ledger.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.userLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getUserByCard(c *gin.Context) {
	user, err := h.ledger.Resolve(c.Request.Context(), c.Param("cardId"), h.permissive)
	if err != nil {
		h.userLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) userLookupError(c *gin.Context, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Directory unavailable"})
}

type setBalanceRequest struct {
	Balance *float64 `json:"balance" binding:"required"`
}

func (h *Handler) setBalance(c *gin.Context) {
	var req setBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Balance == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Balance is required"})
		return
	}

	id := c.Param("id")
	if !h.ledger.UpdateBalance(c.Request.Context(), id, *req.Balance) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	user, err := h.ledger.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) cacheInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.CacheInfo())
}

func (h *Handler) clearCache(c *gin.Context) {
	h.ledger.Invalidate()
	c.JSON(http.StatusOK, gin.H{"success": true})
}
