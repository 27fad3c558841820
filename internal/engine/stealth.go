package engine

import (
	stealth "github.com/anatolykoptev/go-stealth"
)

// Re-export stealth helpers for engine consumers.
type BrowserClient = stealth.BrowserClient

func ChromeHeaders() map[string]string { return stealth.ChromeHeaders() }
func RandomUserAgent() string          { return stealth.RandomUserAgent() }

// NewBrowserClient creates a Chrome-fingerprinted client for providers that
// reject plain Go TLS handshakes on their HTML pages.
func NewBrowserClient(timeoutSeconds int, opts ...stealth.ClientOption) (*BrowserClient, error) {
	return stealth.NewClient(append([]stealth.ClientOption{stealth.WithTimeout(timeoutSeconds)}, opts...)...)
}
