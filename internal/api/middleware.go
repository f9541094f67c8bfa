package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

const (
	requestIDHeader = "X-Request-ID"
	callerHeader    = "X-Caller"

	requestIDKey = "request_id"
	loggerKey    = "logger"
	callerKey    = "caller"
)

// RequestID tags every request with the incoming X-Request-ID or a fresh uuid.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Logger logs one line per request and stores a request-scoped logger.
func Logger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		entry := log.WithField("request_id", c.GetString(requestIDKey))
		c.Set(loggerKey, entry)

		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.WithFields(fields).Warn("Request served")
			return
		}
		entry.WithFields(fields).Debug("Request served")
	}
}

// Recovery turns a panic into a 500 response.
func Recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"panic":      recovered,
		}).Error("Request panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error:     codeInternal,
			Message:   http.StatusText(http.StatusInternalServerError),
			RequestID: c.GetString(requestIDKey),
		})
	})
}

// AdminAuth requires a bearer token equal to token and an X-Caller header
// naming the acting key. An empty token disables the admin routes.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			writeError(c, presale.ErrUnauthorized)
			return
		}
		raw := c.GetHeader(callerHeader)
		if raw == "" {
			badRequest(c, errors.New("missing "+callerHeader+" header"))
			return
		}
		caller, err := domain.ParsePublicKey(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func loggerFrom(c *gin.Context) logrus.FieldLogger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(logrus.FieldLogger); ok {
			return l
		}
	}
	return logrus.StandardLogger()
}

func callerFrom(c *gin.Context) domain.PublicKey {
	pk, _ := c.MustGet(callerKey).(domain.PublicKey)
	return pk
}
