package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v4"
)

type membershipsResponse struct {
	Client struct {
		LastActiveSessionID string `json:"last_active_session_id"`
		Sessions            []struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"sessions"`
	} `json:"client"`
}

// ResolveIdentity asks the identity provider who the cookie belongs to. The
// result is never cached; every request re-resolves.
func (c *Client) ResolveIdentity(ctx context.Context, cookie string) (Identity, error) {
	u := c.clerkBaseURL + "/v1/me/organization_memberships"
	q := url.Values{}
	q.Set("paginated", "true")
	q.Set("limit", "10")
	q.Set("offset", "0")
	q.Set("__clerk_api_version", clerkAPIVersion)
	q.Set("_clerk_js_version", clerkJSVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Identity{}, &UpstreamError{Op: "resolve identity", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var out membershipsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Identity{}, &ProtocolError{Op: "resolve identity", Detail: "body is not json"}
	}
	sessionID := strings.TrimSpace(out.Client.LastActiveSessionID)
	if sessionID == "" {
		return Identity{}, &ProtocolError{Op: "resolve identity", Detail: "missing last_active_session_id"}
	}
	if len(out.Client.Sessions) == 0 || strings.TrimSpace(out.Client.Sessions[0].User.ID) == "" {
		return Identity{}, &ProtocolError{Op: "resolve identity", Detail: "missing session user id"}
	}
	return Identity{
		SessionID: sessionID,
		UserToken: strings.TrimSpace(out.Client.Sessions[0].User.ID),
	}, nil
}

// MintToken exchanges a session id plus cookie for a short-lived bearer
// token. The token is used once and never cached; its lifetime is the
// upstream's concern.
func (c *Client) MintToken(ctx context.Context, sessionID, cookie string) (string, error) {
	u := c.clerkBaseURL + "/v1/client/sessions/" + url.PathEscape(sessionID) + "/tokens" +
		"?__clerk_api_version=" + clerkAPIVersion + "&_clerk_js_version=" + clerkTokensJSVersion

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(""))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Op: "mint token", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var out struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ProtocolError{Op: "mint token", Detail: "body is not json"}
	}
	token := strings.TrimSpace(out.JWT)
	if token == "" {
		return "", &ProtocolError{Op: "mint token", Detail: "missing jwt field"}
	}
	logTokenExpiry(token)
	return token, nil
}

// logTokenExpiry decodes the minted token without verifying it, purely to
// surface the upstream-controlled lifetime in debug logs. The token is
// opaque to the bridge otherwise.
func logTokenExpiry(token string) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	if claims.ExpiresAt == nil {
		return
	}
	log.Debug("minted access token", "expires_at", claims.ExpiresAt.Time)
}
