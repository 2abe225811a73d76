// Package api exposes selection and export commands over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	nrcexport "github.com/williamtriinh/nrc-to-strava"
	"github.com/williamtriinh/nrc-to-strava/nike"
	"github.com/williamtriinh/nrc-to-strava/pipeline"
)

// Lister fetches one page of activity summaries.
type Lister interface {
	FetchActivities(ctx context.Context, beforeID string) (*nike.ActivityPage, error)
}

// Handler serves the command surface for one coordinator.
type Handler struct {
	coordinator *pipeline.Coordinator
	lister      Lister
	logger      *slog.Logger
}

func NewHandler(coordinator *pipeline.Coordinator, lister Lister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{coordinator: coordinator, lister: lister, logger: logger}
}

// NewRouter builds the gin engine. GET /activities is only registered when
// a lister is configured.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.lister != nil {
		r.GET("/activities", h.listActivities)
	}
	sel := r.Group("/selection")
	{
		sel.GET("", h.getSelection)
		sel.PUT("/:id", h.selectActivity)
		sel.DELETE("/:id", h.unselectActivity)
		sel.DELETE("", h.clearSelection)
	}
	exports := r.Group("/exports")
	{
		exports.POST("", h.exportSelected)
		exports.DELETE("", h.deleteExports)
	}
	return r
}

type selectionResponse struct {
	Selected []string `json:"selected"`
	Count    int      `json:"count"`
}

type errorResponse struct {
	Error      string `json:"error"`
	ActivityID string `json:"activity_id,omitempty"`
}

type exportResponse struct {
	PassID       string              `json:"pass_id"`
	Exported     []pipeline.Exported `json:"exported"`
	Failures     []errorResponse     `json:"failures"`
	ManifestPath string              `json:"manifest_path,omitempty"`
	Selection    selectionResponse   `json:"selection"`
}

func (h *Handler) selection() selectionResponse {
	ids := h.coordinator.Selection().Snapshot()
	return selectionResponse{Selected: ids, Count: len(ids)}
}

func (h *Handler) getSelection(c *gin.Context) {
	c.JSON(http.StatusOK, h.selection())
}

func (h *Handler) selectActivity(c *gin.Context) {
	h.coordinator.Selection().Select(c.Param("id"))
	c.JSON(http.StatusOK, h.selection())
}

func (h *Handler) unselectActivity(c *gin.Context) {
	h.coordinator.Selection().Unselect(c.Param("id"))
	c.JSON(http.StatusOK, h.selection())
}

func (h *Handler) clearSelection(c *gin.Context) {
	h.coordinator.Selection().Clear()
	c.JSON(http.StatusOK, h.selection())
}

func (h *Handler) listActivities(c *gin.Context) {
	page, err := h.lister.FetchActivities(c.Request.Context(), c.DefaultQuery("before_id", nike.FirstPage))
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) exportSelected(c *gin.Context) {
	res, err := h.coordinator.ExportSelected(c.Request.Context())
	if err != nil {
		status, body := exportErrorResponse(err)
		c.JSON(status, body)
		return
	}
	out := exportResponse{
		PassID:       res.PassID,
		Exported:     res.Exported,
		Failures:     make([]errorResponse, 0, len(res.Failures)),
		ManifestPath: res.ManifestPath,
		Selection:    h.selection(),
	}
	if out.Exported == nil {
		out.Exported = []pipeline.Exported{}
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, errorResponse{Error: f.Err.Error(), ActivityID: f.ActivityID})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) deleteExports(c *gin.Context) {
	n, err := h.coordinator.DeleteExports()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// exportErrorResponse maps upstream failures to 502, per-activity build
// failures to 422 and anything else to 500.
func exportErrorResponse(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}
	var exportErr *pipeline.ExportError
	if !errors.As(err, &exportErr) {
		return http.StatusInternalServerError, body
	}
	body.ActivityID = exportErr.ActivityID
	body.Error = exportErr.Err.Error()
	if errors.Is(err, nrcexport.ErrUpstreamFetch) {
		return http.StatusBadGateway, body
	}
	return http.StatusUnprocessableEntity, body
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
