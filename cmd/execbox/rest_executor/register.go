package restexecutor

import "github.com/gin-gonic/gin"

// Register registers a handler group on the gin engine.
type Register interface {
	Register(r *gin.Engine)
}
