package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/entslink/internal/auth"
	"github.com/danmuck/entslink/internal/controller"
	"github.com/danmuck/entslink/internal/protocol"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var errUnavailable = errors.New("component not configured")

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/modules", func(c *gin.Context) {
		if s.cfg.Dispatcher == nil {
			unavailable(c)
			return
		}
		c.JSON(http.StatusOK, s.cfg.Dispatcher.Status())
	})

	guard := auth.Require(s.validator())
	r.POST("/modules/reset", guard, func(c *gin.Context) {
		if s.cfg.Dispatcher == nil {
			unavailable(c)
			return
		}
		s.cfg.Dispatcher.Reset()
		log.Info().Msg("admin: peripheral modules reset")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/config", s.getConfig)
	r.PUT("/config", guard, s.putConfig)
	r.GET("/actuator", s.getActuator)
	r.PUT("/actuator", guard, s.putActuator)
	r.POST("/transact/:kind/:action", guard, s.transact)
}

func (s *Server) validator() auth.Validator {
	if s.cfg.Token == "" {
		return nil
	}
	return auth.StaticToken(s.cfg.Token)
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": errUnavailable.Error()})
}

func (s *Server) getConfig(c *gin.Context) {
	if s.cfg.UserConfig == nil {
		unavailable(c)
		return
	}
	uc, ok := s.cfg.UserConfig.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no configuration stored"})
		return
	}
	c.JSON(http.StatusOK, uc)
}

func (s *Server) putConfig(c *gin.Context) {
	if s.cfg.UserConfig == nil {
		unavailable(c)
		return
	}
	var uc schema.UserConfig
	if err := c.ShouldBindJSON(&uc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if uc.UploadMethod != schema.UploadLoRa && uc.UploadMethod != schema.UploadWiFi {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upload_method must be 0 (LoRa) or 1 (WiFi)"})
		return
	}
	s.cfg.UserConfig.Store(uc)
	if s.cfg.Persist != nil {
		if err := s.cfg.Persist(uc); err != nil {
			log.Error().Err(err).Msg("admin: persist user config")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, uc)
}

type actuatorBody struct {
	State string `json:"state"`
}

func (s *Server) getActuator(c *gin.Context) {
	if s.cfg.Actuator == nil {
		unavailable(c)
		return
	}
	c.JSON(http.StatusOK, actuatorBody{State: s.cfg.Actuator.State().String()})
}

func (s *Server) putActuator(c *gin.Context) {
	if s.cfg.Actuator == nil {
		unavailable(c)
		return
	}
	var body actuatorBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, ok := parseState(body.State)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be open or closed"})
		return
	}
	if err := s.cfg.Actuator.SetState(st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, actuatorBody{State: s.cfg.Actuator.State().String()})
}

func parseState(raw string) (schema.ActuatorState, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "1":
		return schema.ActuatorOpen, true
	case "closed", "close", "0":
		return schema.ActuatorClosed, true
	default:
		return schema.ActuatorClosed, false
	}
}

// transact runs one controller-side exchange so the link can be exercised
// from a browser or curl.
func (s *Server) transact(c *gin.Context) {
	tx := s.cfg.Transactor
	if tx == nil {
		unavailable(c)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*tx.Config().Timeout)
	defer cancel()

	kind, action := c.Param("kind"), c.Param("action")
	var (
		out any
		err error
	)
	switch kind + "/" + action {
	case "power/sleep":
		err = tx.Power().Sleep(ctx)
		out = gin.H{"sleep": true}
	case "power/wakeup":
		out, err = tx.Power().Wakeup(ctx)
	case "actuator/check":
		var st schema.ActuatorState
		st, err = tx.Actuator().Check(ctx)
		out = actuatorBody{State: st.String()}
	case "actuator/open", "actuator/closed":
		want, _ := parseState(action)
		var st schema.ActuatorState
		st, err = tx.Actuator().Set(ctx, want)
		out = actuatorBody{State: st.String()}
	case "config/request":
		out, err = tx.UserConfig().Request(ctx)
	case "connectivity/time":
		var ts uint32
		ts, err = tx.Connectivity().Time(ctx)
		out = gin.H{"time": ts}
	case "connectivity/link":
		var code uint32
		code, err = tx.Connectivity().CheckLink(ctx)
		out = gin.H{"status": code}
	case "storage/size":
		var size uint64
		size, err = tx.Storage().Size(ctx, c.Query("file"))
		out = gin.H{"size": size}
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown transaction " + kind + "/" + action})
		return
	}
	if err != nil {
		c.JSON(transactStatus(err), gin.H{"error": err.Error(), "class": protocol.ClassName(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": out})
}

func transactStatus(err error) int {
	var serr *controller.StorageError
	switch {
	case errors.As(err, &serr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, protocol.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrRouting):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}
