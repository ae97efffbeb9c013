package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// apiError carries an errcode value through proxyutil, which reads it back
// via Code().
type apiError struct {
	code uint32
	msg  string
}

func (e apiError) Error() string {
	return e.msg
}

func (e apiError) Code() uint32 {
	return e.code
}

// Success writes data inside a code 0 envelope.
func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error writes a failure envelope. The HTTP status is always 200; callers
// tell failures apart by the envelope code.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, apiError{code: uint32(code), msg: message})
}

// Abort writes a failure envelope and stops the handler chain.
func Abort(c *gin.Context, code int, message string) {
	Error(c, code, message)
	c.Abort()
}
