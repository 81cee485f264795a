package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/socialdesk/internal/ingest"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/ticket"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/health", handleHealth(opts.DB))

	v1 := router.Group("/api/v1")
	v1.GET("/tickets", handleTicketList(opts.Tickets))
	v1.GET("/tickets/:id", handleTicketDetail(opts.Tickets))
	v1.GET("/tickets/:id/history", handleTicketHistory(opts.Tickets))
	v1.PUT("/tickets/:id/state", handleSetState(opts.Tickets))
	v1.POST("/tickets/:id/articles", handleAddArticle(opts.Tickets))
	v1.POST("/articles/:id/publish", handlePublish(opts.Tickets))
	v1.GET("/channels", handleChannelList(opts.DB))
	if opts.Fetcher != nil {
		v1.POST("/channels/:id/fetch", handleFetch(opts.Fetcher))
	}
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleTicketList(svc *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f ticket.Filter
		var ok bool
		if f.GroupID, ok = uintQuery(c, "group_id"); !ok {
			return
		}
		if f.ChannelID, ok = uintQuery(c, "channel_id"); !ok {
			return
		}
		f.State = models.TicketState(c.Query("state"))
		if f.State != "" && !f.State.Valid() {
			abort(c, http.StatusBadRequest, "unknown state "+string(f.State))
			return
		}
		f.Customer = c.Query("customer")
		f.Limit, _ = strconv.Atoi(c.Query("limit"))
		f.Offset, _ = strconv.Atoi(c.Query("offset"))

		tickets, err := svc.List(c.Request.Context(), f)
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]ticketJSON, len(tickets))
		for i := range tickets {
			out[i] = toTicketJSON(&tickets[i])
		}
		c.JSON(http.StatusOK, gin.H{"tickets": out})
	}
}

func handleTicketDetail(svc *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		t, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toTicketJSON(t))
	}
}

func handleTicketHistory(svc *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if _, err := svc.Get(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		history, err := svc.History(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]historyJSON, len(history))
		for i, h := range history {
			out[i] = historyJSON{
				FromState: string(h.FromState),
				ToState:   string(h.ToState),
				Source:    h.Source,
				ArticleID: h.ArticleID,
				CreatedAt: h.CreatedAt,
			}
		}
		c.JSON(http.StatusOK, gin.H{"history": out})
	}
}

type setStateRequest struct {
	State string `json:"state" binding:"required"`
}

func handleSetState(svc *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var req setStateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		t, err := svc.SetState(c.Request.Context(), id, models.TicketState(req.State))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toTicketJSON(t))
	}
}

type addArticleRequest struct {
	Body     string  `json:"body" binding:"required"`
	From     string  `json:"from"`
	To       *string `json:"to"`
	Kind     string  `json:"kind"`
	Internal bool    `json:"internal"`
}

func handleAddArticle(svc *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var req addArticleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		a, err := svc.AddArticle(c.Request.Context(), id, ticket.ArticleInput{
			Body:     req.Body,
			From:     req.From,
			To:       req.To,
			Kind:     req.Kind,
			Internal: req.Internal,
		})
		var pe *ingest.PublishError
		if a != nil && errors.As(err, &pe) {
			// Stored but not sent; the article ID is needed to retry.
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "article": toArticleJSON(a)})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, toArticleJSON(a))
	}
}

func handlePublish(svc *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		a, err := svc.Publish(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toArticleJSON(a))
	}
}

func handleChannelList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var channels []models.Channel
		if err := db.WithContext(c.Request.Context()).Order("id").Find(&channels).Error; err != nil {
			respondError(c, err)
			return
		}
		out := make([]gin.H, len(channels))
		for i, ch := range channels {
			out[i] = gin.H{
				"id":       ch.ID,
				"name":     ch.Name,
				"platform": ch.Platform,
				"account":  ch.Account,
				"active":   ch.Active,
			}
		}
		c.JSON(http.StatusOK, gin.H{"channels": out})
	}
}

func handleFetch(f Fetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		report, err := f.RunCycle(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		errs := make([]string, len(report.SourceErrors))
		for i, e := range report.SourceErrors {
			errs[i] = e.Error()
		}
		c.JSON(http.StatusOK, gin.H{
			"run_id":          report.RunID,
			"status":          report.Status,
			"imported":        report.Imported,
			"tickets_created": report.TicketsCreated,
			"duplicates":      report.Duplicates,
			"failed":          report.Failed,
			"source_errors":   errs,
		})
	}
}

// respondError maps domain errors to HTTP status codes.
func respondError(c *gin.Context, err error) {
	var pe *ingest.PublishError
	switch {
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ticket.ErrInvalidTransition), errors.Is(err, ticket.ErrInvalidArticle):
		abort(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ingest.ErrLockHeld), errors.Is(err, ingest.ErrAlreadyPublished):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrNotPublishable):
		abort(c, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &pe):
		abort(c, http.StatusBadGateway, err.Error())
	default:
		abort(c, http.StatusInternalServerError, err.Error())
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abort(c, http.StatusBadRequest, "invalid id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return uint(id), true
}

func uintQuery(c *gin.Context, key string) (uint, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return uint(n), true
}
