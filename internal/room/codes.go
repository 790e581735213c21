package room

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet deliberately drops lookalike characters (0/O, 1/I/L) so
// codes survive being read off a TV screen and typed on a phone.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// codeLength is the room code length shown to players.
const codeLength = 4

// generateCode returns a random room code.
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}

// JoinURL returns the address players visit to join a room. The QR
// image itself is rendered client-side on the host display; the server
// only supplies the URL once at room creation.
func JoinURL(baseURL, code string) string {
	return fmt.Sprintf("%s/join?room=%s", baseURL, code)
}
