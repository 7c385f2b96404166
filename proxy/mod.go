// Package proxy defines the HTTP server the components register their routes
// on.
package proxy

import (
	"net"
	"net/http"
)

// Proxy defines the primitives to implement an http server that handles
// client side requests
type Proxy interface {
	// Listen starts the proxy server. This call is assumed to be blocking
	Listen()

	// Stop stops the proxy server
	Stop()

	// GetAddr returns the address the server is listening on, or nil when it
	// is not listening yet.
	GetAddr() net.Addr

	// RegisterHandler registers a new handler for every method on the path.
	RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request))

	// RegisterRoute registers a new handler for the method on the path. The
	// path can contain variables like /candidates/{candidate_id}.
	RegisterRoute(method, path string, handler func(http.ResponseWriter, *http.Request))
}
