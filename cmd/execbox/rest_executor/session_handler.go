package restexecutor

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/execbox/execbox/cmd/execbox/model"
	"github.com/execbox/execbox/runner"
)

// SessionCreator starts interactive sessions; *session.Coordinator
// implements it.
type SessionCreator interface {
	Create(ctx context.Context, lang runner.Language) (uuid.UUID, error)
}

type sessionHandle struct {
	coord  SessionCreator
	logger *zap.Logger
}

// NewSessionHandle creates the session start handler group.
func NewSessionHandle(coord SessionCreator, logger *zap.Logger) Register {
	return &sessionHandle{coord: coord, logger: logger}
}

func (h *sessionHandle) Register(r *gin.Engine) {
	r.POST("/execute/startPythonSession", h.startSession(runner.LangPython))
	r.POST("/execute/startJavaSession", h.startSession(runner.LangJava))
}

func (h *sessionHandle) startSession(lang runner.Language) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, err := h.coord.Create(ctx.Request.Context(), lang)
		if err != nil {
			h.logger.Warn("session create failed", zap.String("language", string(lang)), zap.Error(err))
			ctx.AbortWithStatusJSON(model.ErrorStatus(err), model.ErrorResponse{Message: err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, model.SessionResponse{SessionID: id.String()})
	}
}
