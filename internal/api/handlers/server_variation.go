package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/usecase"
)

// ProposeVariation validates a proposal and kicks off generation.
// Returns 202; the caller follows the stream URL for results.
func (s *Server) ProposeVariation(c *gin.Context) {
	if s.draining.Load() {
		_ = c.Error(apperrors.ServiceUnavailable(apperrors.CodeShuttingDown, "server is shutting down"))
		return
	}

	var input usecase.ProposeVariationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}
	input.UserID = actorFromCtx(c)

	out, err := s.proposeUC.Execute(c.Request.Context(), input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

type variationResponse struct {
	*domain.Variation
	LastSequence int `json:"lastSequence"`
}

// GetVariation is the polling fallback for clients that cannot hold an
// SSE connection. LastSequence tells them where the stream stands.
func (s *Server) GetVariation(c *gin.Context) {
	id := c.Param("variationId")
	rec, ok := s.variations.Get(id)
	if !ok {
		_ = c.Error(apperrors.ErrVariationNotFoundf(id))
		return
	}
	if rec.Phrases == nil {
		rec.Phrases = []domain.Phrase{}
	}
	c.JSON(http.StatusOK, variationResponse{
		Variation:    rec,
		LastSequence: s.broadcaster.LastSequence(id),
	})
}

// StreamVariation serves the SSE stream for one variation: history
// strictly after fromSequence first, then live envelopes. A resuming
// client passes the last sequence it saw; the default 0 replays the
// whole stream. The stream ends after the terminal done envelope, when
// the broadcaster closes the stream, or when the client goes away.
// Heartbeats keep idle connections open through proxies.
func (s *Server) StreamVariation(c *gin.Context) {
	id := c.Param("variationId")
	if _, ok := s.variations.Get(id); !ok {
		_ = c.Error(apperrors.ErrVariationNotFoundf(id))
		return
	}

	fromSequence := 0
	if raw := c.Query("fromSequence"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "fromSequence must be a non-negative integer"))
			return
		}
		fromSequence = n
	}

	ch, cancel := s.broadcaster.Subscribe(id, fromSequence)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if !s.writeEnvelope(c, domain.NewHeartbeatEnvelope(id)) {
				return
			}
		case env, open := <-ch:
			if !open {
				return
			}
			if !s.writeEnvelope(c, env) {
				return
			}
			if env.Terminal() {
				return
			}
		}
	}
}

// writeEnvelope writes one SSE frame and flushes it. Returns false
// when the connection is no longer usable.
func (s *Server) writeEnvelope(c *gin.Context, env domain.EventEnvelope) bool {
	frame, err := env.SSE()
	if err != nil {
		logger.Warn("encode sse frame failed",
			zap.String("variation_id", env.VariationID),
			zap.Int("sequence", env.Sequence),
			zap.Error(err),
		)
		return true
	}
	if _, err := c.Writer.Write(frame); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// CommitVariation applies a READY variation to project state.
func (s *Server) CommitVariation(c *gin.Context) {
	var input usecase.CommitVariationInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
			return
		}
	}
	input.VariationID = c.Param("variationId")
	input.UserID = actorFromCtx(c)

	out, err := s.commitUC.Execute(c.Request.Context(), input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DiscardVariation abandons a variation and refunds its budget charge
// when generation never completed.
func (s *Server) DiscardVariation(c *gin.Context) {
	out, err := s.discardUC.Execute(c.Request.Context(), usecase.DiscardVariationInput{
		VariationID: c.Param("variationId"),
		UserID:      actorFromCtx(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
