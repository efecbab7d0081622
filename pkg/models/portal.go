package models

// StartPortalRequest is the body for POST /checkpoint/start on the portal service.
type StartPortalRequest struct {
	URL string `json:"url"`
}

// StartPortalResponse returns the token addressing the new portal session and
// the URL a human should open to take control.
type StartPortalResponse struct {
	Token     string `json:"token"`
	PortalURL string `json:"portalUrl"`
}
