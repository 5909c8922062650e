package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"oms-gateway/internal/session"
)

func sessionKey(c *gin.Context) session.Key {
	return session.Key{Venue: c.Param("venue"), Entity: c.Param("entity")}
}

func (s *Server) lookup(c *gin.Context) (*session.Session, bool) {
	key := sessionKey(c)
	sess, ok := s.Sessions.Get(key)
	if !ok {
		respondError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "no session for "+key.String())
		return nil, false
	}
	return sess, true
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.Sessions.List()
	out := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

func (s *Server) loginURL(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"login_url": sess.LoginURL()})
}

func (s *Server) logout(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := sess.Logout(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "LOGOUT_FAILED", err.Error())
		return
	}
	s.log.Info("session logged out by operator",
		zap.String("tenant", sess.Key().String()),
		zap.String("operator", CurrentSubject(c)))
	c.JSON(http.StatusOK, sess.Info())
}

// callback is the venue's OAuth redirect target. The venue appends
// request_token and status to the redirect URL registered for the app.
func (s *Server) callback(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	if status := c.Query("status"); status != "" && status != "success" {
		respondError(c, http.StatusBadRequest, "LOGIN_REJECTED", "venue reported login status "+status)
		return
	}
	requestToken := c.Query("request_token")
	if requestToken == "" {
		respondError(c, http.StatusBadRequest, "MISSING_REQUEST_TOKEN", "request_token is required")
		return
	}

	if _, err := sess.Login(c.Request.Context(), requestToken); err != nil {
		s.log.Warn("callback login failed", zap.String("tenant", sess.Key().String()), zap.Error(err))
		if errors.Is(err, session.ErrAuth) {
			respondError(c, http.StatusUnauthorized, "LOGIN_FAILED", err.Error())
			return
		}
		respondError(c, http.StatusBadGateway, "VENUE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}
