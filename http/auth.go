package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	// HeaderTilemeshClientID carries the client generated connection UUID.
	HeaderTilemeshClientID = "X-Tilemesh-Client-Id"

	// HeaderTilemeshAppKey identifies the application a connection belongs
	// to.
	HeaderTilemeshAppKey = "X-Tilemesh-App-Key"

	// HeaderTilemeshAccessToken carries the shared server access token.
	HeaderTilemeshAccessToken = "X-Tilemesh-Access-Token"

	// HeaderXForwardedFor carries the client address set by proxies.
	HeaderXForwardedFor = "X-Forwarded-For"
)

// GetAccessTokenFromHTTPRequest returns the access token from the request
// headers, falling back to the access_token query parameter for clients
// that cannot set headers.
func GetAccessTokenFromHTTPRequest(r *http.Request) string {
	if token := r.Header.Get(HeaderTilemeshAccessToken); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// GetClientIDFromHTTPRequest returns the client connection id from the
// request headers.
func GetClientIDFromHTTPRequest(r *http.Request) string {
	return r.Header.Get(HeaderTilemeshClientID)
}

// GetAppKeyFromHTTPRequest returns the application key from the request
// headers.
func GetAppKeyFromHTTPRequest(r *http.Request) string {
	return r.Header.Get(HeaderTilemeshAppKey)
}

// VerifyAccessToken returns a WebSocket handshake that rejects connections
// without the configured access token. An empty token leaves the server
// open.
func VerifyAccessToken(accessToken string) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		if err := verifyAccessToken(accessToken, r); err != nil {
			logs.WithClientID(GetClientIDFromHTTPRequest(r)).Error(err)
			return err
		}
		return nil
	}
}

// VerifyAccessTokenHandler wraps an HTTP handler with the access token
// check.
func VerifyAccessTokenHandler(accessToken string, next http.HandlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyAccessToken(accessToken, r); err != nil {
			logs.WithClientID(GetClientIDFromHTTPRequest(r)).Error(err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func verifyAccessToken(accessToken string, r *http.Request) error {
	if accessToken == "" {
		return nil
	}

	token := GetAccessTokenFromHTTPRequest(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(accessToken)) != 1 {
		return errors.New("invalid access token").
			WithTag("remote_addr", r.RemoteAddr)
	}
	return nil
}
