package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/risk"
	"fx-risk-alerts/internal/service"
)

type triggerResponse struct {
	Status        string      `json:"status"`
	Alert         *risk.Alert `json:"alert,omitempty"`
	SentToSlack   *bool       `json:"sent_to_slack,omitempty"`
	CurrentRegime string      `json:"current_regime,omitempty"`
	Confidence    *float64    `json:"confidence,omitempty"`
}

func newTriggerResponse(res service.TriggerResult) triggerResponse {
	out := triggerResponse{Status: res.Status, Alert: res.Alert}
	if res.Status == service.StatusTriggered || res.Status == service.StatusEscalated {
		sent := res.SentToSlack
		out.SentToSlack = &sent
	}
	return out
}

func (s *Server) listActive(c *gin.Context) {
	alerts, err := s.engine.ActiveAlerts(c.Request.Context(), c.Query("currency"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) listHistory(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, fmt.Errorf("limit %q must be a positive integer: %w", raw, risk.ErrInvalidThreshold))
			return
		}
		limit = parsed
	}

	alerts := s.engine.History(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) triggerVolatility(c *gin.Context) {
	res, err := s.engine.TriggerVolatility(c.Request.Context(), c.Query("currency"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTriggerResponse(res))
}

func (s *Server) triggerVaR(c *gin.Context) {
	confidence := decimal.Zero
	if raw := c.Query("confidence"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(c, fmt.Errorf("confidence %q is not a number: %w", raw, risk.ErrInvalidThreshold))
			return
		}
		confidence = parsed
	}

	res, err := s.engine.TriggerVaR(c.Request.Context(), c.Query("currency"), confidence)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTriggerResponse(res))
}

func (s *Server) triggerRegime(c *gin.Context) {
	res, err := s.engine.TriggerRegime(c.Request.Context(), c.Query("currency"))
	if err != nil {
		writeError(c, err)
		return
	}

	out := newTriggerResponse(res.TriggerResult)
	out.CurrentRegime = res.CurrentRegime
	if !res.Confidence.IsZero() {
		conf := res.Confidence.InexactFloat64()
		out.Confidence = &conf
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) acknowledge(c *gin.Context) {
	alert, err := s.engine.Acknowledge(c.Request.Context(), c.Param("id"), c.Query("user"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(alert.State)})
}

func (s *Server) resolve(c *gin.Context) {
	alert, err := s.engine.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(alert.State)})
}

func (s *Server) snooze(c *gin.Context) {
	raw := c.DefaultQuery("hours", "24")
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 {
		writeError(c, fmt.Errorf("hours %q must be a positive number: %w", raw, risk.ErrInvalidThreshold))
		return
	}

	alert, err := s.engine.Snooze(c.Request.Context(), c.Param("id"), hours)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(alert.State), "expires_at": alert.ExpiresAt})
}

func (s *Server) summary(c *gin.Context) {
	if err := s.engine.Summary(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) registerPortfolio(c *gin.Context) {
	raw := c.Query("amount")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(c, fmt.Errorf("amount %q is not a number: %w", raw, risk.ErrInvalidThreshold))
		return
	}

	if err := s.engine.RegisterExposure(c.Query("currency"), amount, c.Query("direction")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}
