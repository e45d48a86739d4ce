package utils

import (
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIP returns the address recorded in payment audits.
//
// Order:
//  1. X-Real-IP when it is a public address (set by Nginx)
//  2. the first public address in X-Forwarded-For
//  3. gin's ClientIP
func ClientIP(c *gin.Context) string {
	if ip, ok := publicIP(c.GetHeader("X-Real-IP")); ok {
		return ip
	}

	for _, candidate := range strings.Split(c.GetHeader("X-Forwarded-For"), ",") {
		if ip, ok := publicIP(candidate); ok {
			return ip
		}
	}

	return c.ClientIP()
}

func publicIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return "", false
	}
	return addr.String(), true
}
