package http

import (
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/rs/zerolog/log"
)

// QRHandler renders the check-in URL as a PNG QR code for the projector
// screen, so participants can join from their own devices.
type QRHandler struct {
	checkInURL string
}

func NewQRHandler(checkInURL string) *QRHandler {
	return &QRHandler{checkInURL: checkInURL}
}

func (h *QRHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(h.checkInURL, qrcode.Medium, 256)
	if err != nil {
		log.Warn().Err(err).Msg("qr encode failed")
		http.Error(w, "qr unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
