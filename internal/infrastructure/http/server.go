// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
	"github.com/safebites/menuquery/internal/domain/usecases"
)

// Server is the HTTP server for the menu query API.
type Server struct {
	pipeline *usecases.Pipeline
	reindex  *usecases.ReindexUseCase
	sessions ports.SessionStore
	addr     string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(
	pipeline *usecases.Pipeline,
	reindex *usecases.ReindexUseCase,
	sessions ports.SessionStore,
	addr string,
	timeout time.Duration,
	logger *zap.Logger,
) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline: pipeline,
		reindex:  reindex,
		sessions: sessions,
		addr:     addr,
		timeout:  timeout,
		logger:   logger,
	}
}

// Router builds the gin engine. Exposed separately from Start for
// handler tests.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	api.POST("/chat", s.handleChat)
	api.POST("/sessions", s.handleCreateSession)
	api.POST("/reindex", s.handleReindex)
	api.GET("/health", s.handleHealth)
	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.timeout + 5*time.Second,
	}

	s.logger.Info("server starting", zap.String("addr", s.addr))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// chatRequest is the wire format of one query.
type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	ScopeID   string `json:"scope_id"`
	UserID    string `json:"user_id,omitempty"`
}

// chatItem is one retrieved item in the response.
type chatItem struct {
	ItemID      string   `json:"item_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Allergens   []string `json:"allergens,omitempty"`
	Score       float64  `json:"score"`
}

// chatClause is one clause's result in the response.
type chatClause struct {
	Clause   string     `json:"clause"`
	Category string     `json:"category"`
	Items    []chatItem `json:"items"`
	Answer   string     `json:"answer,omitempty"`
	Error    bool       `json:"error,omitempty"`
}

// chatResponse is the wire format of one pipeline result.
type chatResponse struct {
	SessionID     string       `json:"session_id"`
	ScopeID       string       `json:"scope_id"`
	OriginalQuery string       `json:"original_query"`
	Results       []chatClause `json:"results"`
	Answer        string       `json:"answer,omitempty"`
	Status        string       `json:"status"`
}

// handleChat runs the full pipeline for one query. The request context
// carries both the client disconnect and the configured timeout, so
// cancellation reaches every in-flight handler and provider call.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": entities.StatusError, "message": "invalid request body"})
		return
	}
	if req.Query == "" || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": entities.StatusError, "message": "query and session_id are required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	if err := s.sessions.Ensure(ctx, req.SessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": entities.StatusError, "message": "invalid session"})
		return
	}

	result, err := s.pipeline.Run(ctx, entities.Query{
		Raw:       req.Query,
		SessionID: req.SessionID,
		ScopeID:   req.ScopeID,
		UserID:    req.UserID,
	})
	if err != nil {
		if errors.Is(err, entities.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"status": entities.StatusError, "message": "query and session_id are required"})
			return
		}
		// Internal details stay internal; the client gets a plain error
		// status.
		s.logger.Error("pipeline failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": entities.StatusError})
		return
	}

	c.JSON(http.StatusOK, toChatResponse(result))
}

func toChatResponse(res entities.ChatResult) chatResponse {
	out := chatResponse{
		SessionID:     res.SessionID,
		ScopeID:       res.ScopeID,
		OriginalQuery: res.OriginalQuery,
		Answer:        res.Answer,
		Status:        res.Status,
		Results:       make([]chatClause, 0, len(res.Results)),
	}
	for _, r := range res.Results {
		clause := chatClause{
			Clause:   r.Clause,
			Category: string(r.Category),
			Items:    make([]chatItem, 0, len(r.Items)),
			Answer:   r.Answer,
			Error:    r.Err != nil,
		}
		for _, h := range r.Items {
			clause.Items = append(clause.Items, chatItem{
				ItemID:      h.Item.ID,
				Name:        h.Item.Name,
				Description: h.Item.Description,
				Price:       h.Item.Price,
				Allergens:   h.Item.Allergens,
				Score:       h.CentroidSimilarity,
			})
		}
		out.Results = append(out.Results, clause)
	}
	return out
}

// sessionRequest creates or fetches a session and optionally stores the
// user's standing allergen list as session facts.
type sessionRequest struct {
	UserID    string   `json:"user_id"`
	ScopeID   string   `json:"scope_id"`
	Allergens []string `json:"allergens,omitempty"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.ScopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "user_id and scope_id are required"})
		return
	}

	id, err := s.sessions.GetOrCreate(c.Request.Context(), req.UserID, req.ScopeID)
	if err != nil {
		s.logger.Error("session creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not create session"})
		return
	}

	if req.Allergens != nil {
		facts := entities.SessionFacts{UserAllergens: req.Allergens}
		if err := s.sessions.SetFacts(c.Request.Context(), id, facts); err != nil {
			s.logger.Warn("failed to store session facts", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

// handleReindex rebuilds the index from the catalog on demand.
func (s *Server) handleReindex(c *gin.Context) {
	if err := s.reindex.Rebuild(c.Request.Context()); err != nil {
		s.logger.Error("reindex failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": entities.StatusError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": entities.StatusSuccess})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
