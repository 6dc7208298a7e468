package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes and checks the HMAC-SHA256 signatures shared with the gateway
type Signer struct {
	signingSecret []byte
	webhookSecret []byte
}

func NewSigner(signingSecret, webhookSecret string) *Signer {
	return &Signer{signingSecret: []byte(signingSecret), webhookSecret: []byte(webhookSecret)}
}

func hmacHex(secret []byte, data []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PaymentSignature is the signature the checkout returns for a captured payment
func (s *Signer) PaymentSignature(gatewayOrderID, gatewayPaymentID string) string {
	return hmacHex(s.signingSecret, []byte(gatewayOrderID+"|"+gatewayPaymentID))
}

func (s *Signer) VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if len(s.signingSecret) == 0 || signature == "" {
		return false
	}
	expected := s.PaymentSignature(gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookSignature signs a raw webhook body
func (s *Signer) WebhookSignature(body []byte) string {
	return hmacHex(s.webhookSecret, body)
}

// VerifyWebhook fails closed when no secret is configured
func (s *Signer) VerifyWebhook(body []byte, signature string) bool {
	if len(s.webhookSecret) == 0 || signature == "" {
		return false
	}
	return hmac.Equal([]byte(s.WebhookSignature(body)), []byte(signature))
}
