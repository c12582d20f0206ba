// Package creds implements the flat-file credential store: a read-only,
// line-oriented user database consulted once per authentication attempt.
// There is no in-memory mutable state; every Validate call re-opens and
// re-scans the file, so credential rotation takes effect on the next
// login with no daemon restart.
package creds

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/EricHayter/qnx-rpm-server/model"
)

// schemeTag identifies the password-hash primitive a salt was generated
// under. $7$ selects Argon2id in this implementation; the tag exists so a
// future scheme change does not break parsing of existing credential
// files.
const schemeTag = "$7$"

const saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789./"
const saltCharCount = 16

// argon2id tuning. Chosen to keep a single login under ~50ms on modest
// hardware while remaining well above interactive brute-force budgets.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// GenerateSalt returns a fresh, printable, scheme-tagged salt suitable for
// a new credential-file line.
func GenerateSalt() (string, error) {
	raw := make([]byte, saltCharCount)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	chars := make([]byte, saltCharCount)
	for i, b := range raw {
		chars[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return schemeTag + string(chars), nil
}

// GenerateHash computes the salted, one-way hash of password under salt.
func GenerateHash(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(key)
}

type entry struct {
	username string
	hash     string
	salt     string
	role     model.Role
}

// parseLine parses one "username:hash:salt:role" line. Malformed lines
// (wrong field count, empty username/hash/salt, or an unrecognized role
// character) are reported via ok=false and are never fatal to the scan.
func parseLine(line string) (entry, bool) {
	fields := strings.Split(line, ":")
	if len(fields) != 4 {
		return entry{}, false
	}
	username, hash, salt, roleField := fields[0], fields[1], fields[2], fields[3]
	if username == "" || hash == "" || salt == "" {
		return entry{}, false
	}
	var role model.Role
	switch roleField {
	case "0":
		role = model.RoleViewer
	case "1":
		role = model.RoleAdmin
	default:
		return entry{}, false
	}
	return entry{username: username, hash: hash, salt: salt, role: role}, true
}

// Validate scans the credential file at path for a line whose username
// matches and whose computed hash matches, in a length-independent
// comparison, and returns that line's role. It returns ok=false if the
// file is missing or unreadable, or if no line matches.
func Validate(path, username, password string) (role model.Role, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, valid := parseLine(line)
		if !valid || e.username != username {
			continue
		}
		candidate := GenerateHash(password, e.salt)
		if equalConstantTime(candidate, e.hash) {
			return e.role, true
		}
	}
	return 0, false
}

// equalConstantTime compares a and b without leaking their relative
// lengths through comparison timing: both are reduced to a fixed-width
// digest before the constant-time byte compare.
func equalConstantTime(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}
