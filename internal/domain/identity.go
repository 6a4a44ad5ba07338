// Package domain contains routing identities and roles, no transport logic.
package domain

import (
	"crypto/rand"
	"errors"
	"strings"
)

const (
	MaxIdentityLen = 64

	minCodeLen = 4
	maxCodeLen = 8
	codeLen    = 6
)

// codeAlphabet skips characters that are easy to misread on a headset screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
	ErrIdentityInvalid = errors.New("identity has invalid characters")
)

// DeviceIdentity scopes a routing domain: a hardware serial or a short
// session code. Compare identities with Key, never with ==.
type DeviceIdentity string

// ParseDeviceIdentity validates raw and normalizes session codes to upper
// case. Hardware serials are kept as declared.
func ParseDeviceIdentity(raw string) (DeviceIdentity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrIdentityEmpty
	}
	if len(raw) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	alnum := true
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case isAlnum(c):
		case c == '-' || c == '_' || c == '.' || c == ':':
			alnum = false
		default:
			return "", ErrIdentityInvalid
		}
	}
	if alnum && len(raw) >= minCodeLen && len(raw) <= maxCodeLen {
		return DeviceIdentity(strings.ToUpper(raw)), nil
	}
	return DeviceIdentity(raw), nil
}

// Key is the case-insensitive routing key.
func (id DeviceIdentity) Key() string { return strings.ToUpper(string(id)) }

func (id DeviceIdentity) String() string { return string(id) }

// NewSessionCode returns a fresh short code suitable for typing on a headset.
func NewSessionCode() (DeviceIdentity, error) {
	buf := make([]byte, codeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return DeviceIdentity(buf), nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
