package webview

import (
	"bytes"
	"crypto/rand"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
)

//go:embed templates/page.html
var templateFiles embed.FS

var page = template.Must(template.ParseFS(templateFiles, "templates/page.html"))

// Page holds what a panel page needs to boot.
type Page struct {
	Title string
	// ViewerScript is the URL of the FITS viewer library.
	ViewerScript string
	// Socket is the WebSocket URL the page connects back to.
	Socket string
	Nonce  string
}

// Nonce returns a random token for the page's content security policy.
func Nonce() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Render builds the page for p. A fresh nonce is drawn when none is set.
func Render(p Page) (string, error) {
	if p.Nonce == "" {
		nonce, err := Nonce()
		if err != nil {
			return "", err
		}
		p.Nonce = nonce
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("failed to render panel page: %w", err)
	}
	return buf.String(), nil
}

// SocketURL derives the socket URL for p from the server's base URL.
func (s *Server) SocketURL(p Panel) string {
	base := s.BaseURL()
	switch {
	case len(base) >= 8 && base[:8] == "https://":
		base = "wss://" + base[8:]
	case len(base) >= 7 && base[:7] == "http://":
		base = "ws://" + base[7:]
	}
	return base + "/ws/" + p.ID()
}
