package secure

import (
	"net"

	utls "github.com/refraction-networking/utls"
)

// NewUTLSClient returns a client side session whose ClientHello mimics the
// given fingerprint.
func NewUTLSClient(config *utls.Config, helloID utls.ClientHelloID) Session {
	return newTLSSession(func(conn net.Conn) recordConn {
		return utls.UClient(conn, config, helloID)
	})
}

// ParseClientHelloID maps a fingerprint name to a uTLS hello ID.
func ParseClientHelloID(name string) (utls.ClientHelloID, bool) {
	switch name {
	case "", "go", "golang":
		return utls.HelloGolang, true
	case "chrome":
		return utls.HelloChrome_Auto, true
	case "firefox":
		return utls.HelloFirefox_Auto, true
	case "safari":
		return utls.HelloSafari_Auto, true
	case "ios":
		return utls.HelloIOS_Auto, true
	case "edge":
		return utls.HelloEdge_Auto, true
	case "randomized":
		return utls.HelloRandomized, true
	}
	return utls.ClientHelloID{}, false
}
