// Package privacy holds helpers that keep raw personal data out of logs and storage.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// AnonymizeIP truncates an address to its network prefix (/24 for IPv4, /48
// for IPv6) for logging. Unparseable input yields "invalid".
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		if ip == "" {
			return ""
		}
		return "invalid"
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// HashIP returns a keyed hash of the address suitable for storage next to a
// ballot. The same salt must be used for all ballots of a deployment.
func HashIP(salt, ip string) string {
	if ip == "" {
		return ""
	}
	return Digest(salt, ip)
}

// Digest is a hex HMAC-SHA256 of the joined parts under key.
func Digest(key string, parts ...string) string {
	mac := hmac.New(sha256.New, []byte(key))
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte{0})
		}
		mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}
