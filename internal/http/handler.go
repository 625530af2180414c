package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"platewatch/internal/notify"
	"platewatch/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	scanService *service.ScanService
	fanout      *notify.Fanout
	hub         *notify.Hub
	log         zerolog.Logger
}

func NewHandler(scanService *service.ScanService, fanout *notify.Fanout, hub *notify.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		scanService: scanService,
		fanout:      fanout,
		hub:         hub,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/scan", h.triggerScan)
		public.GET("/status", h.status)
		public.GET("/status/:camera", h.cameraStatus)
		public.GET("/plates", h.listPlates)
		public.GET("/ws", h.statusStream)
	}

	// Protected endpoints: registry mutations and maintenance
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/plates", h.addPlate)
		protected.DELETE("/plates/:plate", h.removePlate)
		protected.POST("/images/clean", h.cleanImages)
	}
}

type scanRequest struct {
	CameraID string `json:"camera_id"`
}

func (h *Handler) triggerScan(c *gin.Context) {
	var req scanRequest
	// An empty body means "scan every camera".
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	result, err := h.scanService.TriggerScan(strings.TrimSpace(req.CameraID))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse(result))
}

func (h *Handler) status(c *gin.Context) {
	statuses := h.scanService.CameraStatuses()
	cameras := make([]gin.H, 0, len(statuses))
	for _, st := range statuses {
		cameras = append(cameras, gin.H{
			"status":  st,
			"message": h.fanout.Status(st.CameraName),
			"pulse":   h.fanout.PulseActive(st.CameraName),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregate": h.fanout.Aggregate(),
		"cameras":   cameras,
	})
}

func (h *Handler) cameraStatus(c *gin.Context) {
	st, err := h.scanService.CameraStatus(c.Param("camera"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  st,
		"message": h.fanout.Status(st.CameraName),
		"pulse":   h.fanout.PulseActive(st.CameraName),
	})
}

type addPlateRequest struct {
	Plate string `json:"plate" binding:"required"`
	Owner string `json:"owner"`
}

func (h *Handler) addPlate(c *gin.Context) {
	var req addPlateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if !h.scanService.AddPlate(req.Plate, req.Owner) {
		c.JSON(http.StatusBadRequest, errorResponse("invalid plate: must be 2-10 alphanumeric characters"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status": "ok",
		"plate":  strings.ToUpper(strings.TrimSpace(req.Plate)),
	})
}

func (h *Handler) removePlate(c *gin.Context) {
	plate := c.Param("plate")
	if !h.scanService.RemovePlate(plate) {
		c.JSON(http.StatusNotFound, errorResponse("plate not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listPlates(c *gin.Context) {
	formatted, total := h.scanService.FormattedPlates()
	c.JSON(http.StatusOK, gin.H{
		"plates": formatted,
		"total":  total,
	})
}

type cleanImagesRequest struct {
	Folder    string `json:"folder"`
	MaxImages int    `json:"max_images"`
}

func (h *Handler) cleanImages(c *gin.Context) {
	var req cleanImagesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	if !h.scanService.CleanImages(req.Folder, req.MaxImages) {
		c.JSON(http.StatusInternalServerError, errorResponse("image cleanup failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) statusStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.hub.Register(conn)

	// Drain reads so close frames are processed; the hub handles writes.
	go func() {
		defer h.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
