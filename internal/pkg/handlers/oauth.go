package handlers

import (
	"net/http"
	"net/url"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/sdmapi"
)

/*
 * NestAuthHandler sends the operator to the Nest partner connection page for
 * the Device Access project, asking for offline access so that the code
 * returned to the redirect URL can be exchanged for a refresh token
 */

type NestAuthHandler struct {
	sdmProjectID string
	clientID     string
	redirectURL  string
}

func NewNestAuthHandler(sdmProjectID, clientID, redirectURL string) *NestAuthHandler {
	return &NestAuthHandler{
		sdmProjectID: sdmProjectID,
		clientID:     clientID,
		redirectURL:  redirectURL,
	}
}

// AuthURL is the consent page the operator is redirected to
func (h *NestAuthHandler) AuthURL() string {
	q := url.Values{}
	q.Set("client_id", h.clientID)
	q.Set("redirect_uri", h.redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", sdmapi.Scope)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")

	u := url.URL{
		Scheme:   "https",
		Host:     "nestservices.google.com",
		Path:     "/partnerconnections/" + h.sdmProjectID + "/auth",
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (h *NestAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The consent page sends the operator back here with ?code=...
	if code := r.URL.Query().Get("code"); code != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Authorization code: " + code + "\nExchange it for a refresh token and set nest.refresh-token\n"))
		return
	}

	http.Redirect(w, r, h.AuthURL(), http.StatusFound)
}
