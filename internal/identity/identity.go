package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadSalt reads the process-wide salt from disk. Every room in the process
// derives its signed key and client ids from the same salt, so a missing or
// empty salt file aborts room creation.
func LoadSalt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read salt file: %w", err)
	}
	salt := strings.TrimSpace(string(data))
	if salt == "" {
		return "", fmt.Errorf("salt file %s is empty", path)
	}
	return salt, nil
}

// SignedKey derives the room's capability token. Knowing it grants the
// close/clearall/checkout commands.
func SignedKey(roomName, salt string) string {
	return sha1hex(roomName + salt)
}

// ClientID derives a per-login session id from the room, the client-supplied
// name, the salt and the login time in milliseconds.
func ClientID(roomName, userName, salt string, loginMillis int64) string {
	return sha1hex(roomName + userName + salt + strconv.FormatInt(loginMillis, 10))
}

// LogName is the deterministic base name for a room's log files.
func LogName(roomName string) string {
	return sha1hex(roomName)
}

func sha1hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
