package invites

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// QRGenerator renders invite deep links as QR PNGs for the share flow.
type QRGenerator struct {
	shareBaseURL string
}

func NewQRGenerator(shareBaseURL string) *QRGenerator {
	return &QRGenerator{shareBaseURL: strings.TrimRight(shareBaseURL, "/")}
}

// InviteURL is the join deep link a scanned QR opens.
func (q *QRGenerator) InviteURL(code string) string {
	return fmt.Sprintf("%s/join/%s", q.shareBaseURL, code)
}

// GenerateInviteQR renders the invite link as a 256px PNG.
func (q *QRGenerator) GenerateInviteQR(code string) ([]byte, error) {
	return qrcode.Encode(q.InviteURL(code), qrcode.Medium, 256)
}
