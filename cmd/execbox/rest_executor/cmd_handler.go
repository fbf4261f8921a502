// Package restexecutor exposes the batch execution endpoints.
package restexecutor

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/execbox/execbox/cmd/execbox/model"
	"github.com/execbox/execbox/runner"
	"github.com/execbox/execbox/worker"
)

// Executor is the batch runner surface the handlers call; *runner.Runner
// implements it.
type Executor interface {
	RunPythonCode(ctx context.Context, req runner.CodeRequest) (*runner.CodeResult, error)
	RunPythonProject(ctx context.Context, req runner.ProjectRequest) (*runner.ProjectResult, error)
	RunPythonAssignment(ctx context.Context, req runner.AssignmentRequest) (*runner.AssignmentResult, error)
	RunJavaCode(ctx context.Context, req runner.CodeRequest) (*runner.CodeResult, error)
	RunJavaProject(ctx context.Context, req runner.ProjectRequest) (*runner.ProjectResult, error)
	RunJavaAssignment(ctx context.Context, req runner.AssignmentRequest) (*runner.AssignmentResult, error)
	RunCppCode(ctx context.Context, req runner.CodeRequest) (*runner.CodeResult, error)
	RunCppProject(ctx context.Context, req runner.ProjectRequest) (*runner.ProjectResult, error)
	RunCppAssignment(ctx context.Context, req runner.AssignmentRequest) (*runner.AssignmentResult, error)
}

type cmdHandle struct {
	exec   Executor
	worker worker.Worker
	logger *zap.Logger
}

// NewCmdHandle creates the /execute handler group.
func NewCmdHandle(exec Executor, w worker.Worker, logger *zap.Logger) Register {
	return &cmdHandle{exec: exec, worker: w, logger: logger}
}

func (h *cmdHandle) Register(r *gin.Engine) {
	r.POST("/execute/python", h.handlePythonCode)
	r.POST("/execute/python-project", h.handlePythonProject)
	r.POST("/execute/python-assignment", h.handlePythonAssignment)
	r.POST("/execute/java", h.handleJavaCode)
	r.POST("/execute/java-project", h.handleJavaProject)
	r.POST("/execute/java-assignment", h.handleJavaAssignment)
	r.POST("/execute/cpp", h.handleCppCode)
	r.POST("/execute/cpp-project", h.handleCppProject)
	r.POST("/execute/cpp-assignment", h.handleCppAssignment)
}

func (h *cmdHandle) handlePythonCode(ctx *gin.Context) {
	h.handleCode(ctx, h.exec.RunPythonCode)
}

func (h *cmdHandle) handleJavaCode(ctx *gin.Context) {
	h.handleCode(ctx, h.exec.RunJavaCode)
}

func (h *cmdHandle) handleCppCode(ctx *gin.Context) {
	h.handleCode(ctx, h.exec.RunCppCode)
}

func (h *cmdHandle) handlePythonProject(ctx *gin.Context) {
	h.handleProject(ctx, h.exec.RunPythonProject)
}

func (h *cmdHandle) handleJavaProject(ctx *gin.Context) {
	h.handleProject(ctx, h.exec.RunJavaProject)
}

func (h *cmdHandle) handleCppProject(ctx *gin.Context) {
	h.handleProject(ctx, h.exec.RunCppProject)
}

func (h *cmdHandle) handlePythonAssignment(ctx *gin.Context) {
	h.handleAssignment(ctx, h.exec.RunPythonAssignment)
}

func (h *cmdHandle) handleJavaAssignment(ctx *gin.Context) {
	h.handleAssignment(ctx, h.exec.RunJavaAssignment)
}

func (h *cmdHandle) handleCppAssignment(ctx *gin.Context) {
	h.handleAssignment(ctx, h.exec.RunCppAssignment)
}

func (h *cmdHandle) handleCode(ctx *gin.Context, run func(context.Context, runner.CodeRequest) (*runner.CodeResult, error)) {
	var req model.CodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Message: err.Error()})
		return
	}
	h.execute(ctx, func(c context.Context) (any, error) {
		res, err := run(c, req.ToRunnerCode())
		if err != nil {
			return nil, err
		}
		return model.FromCodeResult(res), nil
	})
}

func (h *cmdHandle) handleProject(ctx *gin.Context, run func(context.Context, runner.ProjectRequest) (*runner.ProjectResult, error)) {
	var req model.ProjectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Message: err.Error()})
		return
	}
	h.execute(ctx, func(c context.Context) (any, error) {
		res, err := run(c, req.ToRunnerProject())
		if err != nil {
			return nil, err
		}
		return model.FromProjectResult(res), nil
	})
}

func (h *cmdHandle) handleAssignment(ctx *gin.Context, run func(context.Context, runner.AssignmentRequest) (*runner.AssignmentResult, error)) {
	var req model.AssignmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Message: err.Error()})
		return
	}
	h.execute(ctx, func(c context.Context) (any, error) {
		res, err := run(c, req.ToRunnerAssignment())
		if err != nil {
			return nil, err
		}
		return model.FromAssignmentResult(res), nil
	})
}

// execute routes the job through the bounded worker pool and writes the
// JSON response or the mapped error.
func (h *cmdHandle) execute(ctx *gin.Context, job func(context.Context) (any, error)) {
	var result any
	errCh := h.worker.Submit(ctx.Request.Context(), func(c context.Context) error {
		r, err := job(c)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err := <-errCh; err != nil {
		h.logger.Warn("execution failed", zap.Error(err))
		ctx.AbortWithStatusJSON(model.ErrorStatus(err), model.ErrorResponse{Message: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, result)
}
