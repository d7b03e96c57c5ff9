package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// localHostOnly rejects requests addressed to any other host name, which is what a
// rebound DNS name looks like from here.
func localHostOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isSafeLocalHost(c.Request.Host) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{JSONKeyError: "forbidden host"})
			return
		}
		c.Next()
	}
}

// loopbackOnly keeps state-changing endpoints to the local machine.
func loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopback(c.Request.RemoteAddr) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{JSONKeyError: "forbidden"})
			return
		}
		if !isSafeLocalHost(c.Request.Host) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{JSONKeyError: "forbidden host"})
			return
		}
		c.Next()
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			log.Warn("request failed", "method", c.Request.Method, "path", c.FullPath(), "status", status, "elapsed", time.Since(start).String())
		}
	}
}

// isLoopback accepts "host:port" or a bare address.
func isLoopback(remote string) bool {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.IsLoopback()
}

func isSafeLocalHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	switch strings.ToLower(strings.Trim(host, "[]")) {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	return false
}
