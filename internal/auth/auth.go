// Package auth implements the client side of PostgreSQL's authentication
// sub-protocol (C7): the MD5 challenge response and the SCRAM-SHA-256
// exchange. The MD5 half is grounded directly on lib/pq's conn.go
// (md5s(md5s(password+user)+salt)); SCRAM follows spec.md §4.7 and RFC
// 5802, using golang.org/x/crypto/pbkdf2 for the Hi() salted-password
// derivation instead of a hand-rolled iterated-XOR loop, since Hi is by
// definition PBKDF2-HMAC-SHA256.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// MD5Password computes the lowercase-hex response to an
// AuthenticationMD5Password challenge: "md5" + md5(md5(password+user)+salt).
func MD5Password(user, password string, salt [4]byte) string {
	inner := md5Hex(password + user)
	outer := md5Hex(inner + string(salt[:]))
	return "md5" + outer
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SCRAMMechanism is the only SASL mechanism this core accepts, per
// spec.md §1's Non-goals.
const SCRAMMechanism = "SCRAM-SHA-256"

// NewClientNonce generates the 18 random bytes, base64-encoded, used as
// the client nonce for a SCRAM exchange (spec.md §3).
func NewClientNonce() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating client nonce: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf), nil
}

// SupportsMechanism reports whether mechanisms (the mechanism names
// offered by AuthenticationSASL) includes SCRAM-SHA-256.
func SupportsMechanism(mechanisms []string) bool {
	for _, m := range mechanisms {
		if m == SCRAMMechanism {
			return true
		}
	}

	return false
}

// ClientFirstMessage builds the SASL initial response: "n,,n=*,r=<nonce>".
func ClientFirstMessage(clientNonce string) string {
	return "n,,n=*,r=" + clientNonce
}

// ServerFirst holds the parsed fields of a SCRAM server-first message
// (AuthenticationSASLContinue): "r=<nonce>,s=<salt>,i=<iterations>".
type ServerFirst struct {
	Nonce      string
	Salt       []byte
	Iterations int
}

// ParseServerFirst parses a server-first message and validates that the
// combined nonce begins with the client's own nonce and is strictly
// longer, per spec.md §4.7.
func ParseServerFirst(msg, clientNonce string) (ServerFirst, error) {
	fields := splitSCRAMFields(msg)

	nonce, ok := fields["r"]
	if !ok {
		return ServerFirst{}, errors.New("auth: server-first message missing nonce")
	}

	if !strings.HasPrefix(nonce, clientNonce) || len(nonce) <= len(clientNonce) {
		return ServerFirst{}, errors.New("auth: server nonce does not extend client nonce")
	}

	saltB64, ok := fields["s"]
	if !ok {
		return ServerFirst{}, errors.New("auth: server-first message missing salt")
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return ServerFirst{}, fmt.Errorf("auth: invalid salt encoding: %w", err)
	}

	iterStr, ok := fields["i"]
	if !ok {
		return ServerFirst{}, errors.New("auth: server-first message missing iteration count")
	}

	iterations, err := strconv.Atoi(iterStr)
	if err != nil {
		return ServerFirst{}, fmt.Errorf("auth: invalid iteration count: %w", err)
	}

	return ServerFirst{Nonce: nonce, Salt: salt, Iterations: iterations}, nil
}

func splitSCRAMFields(msg string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}

	return out
}

// ClientFinal holds the computed final-message body and the server
// signature that must be verified against AuthenticationSASLFinal.
type ClientFinal struct {
	Message         string
	ServerSignature string
}

// clientFirstBare is the portion of the client-first message that feeds
// into AuthMessage, excluding the GS2 header.
func clientFirstBare(clientNonce string) string { return "n=*,r=" + clientNonce }

// ComputeClientFinal derives the salted password via PBKDF2-HMAC-SHA256
// (SCRAM's Hi function), the client proof, and the expected server
// signature, per spec.md §4.7.
func ComputeClientFinal(password, clientNonce string, serverFirstMessage string, server ServerFirst) ClientFinal {
	salted := pbkdf2.Key([]byte(password), server.Salt, server.Iterations, sha256.Size, sha256.New)

	clientKey := hmacSum(salted, "Client Key")
	storedKey := sha256.Sum256(clientKey)

	channelBinding := "c=biws" // base64("n,,"), no channel binding
	clientFinalWithoutProof := channelBinding + ",r=" + server.Nonce

	authMessage := clientFirstBare(clientNonce) + "," + serverFirstMessage + "," + clientFinalWithoutProof

	clientSignature := hmacSum(storedKey[:], authMessage)
	proof := xorBytes(clientKey, clientSignature)

	serverKey := hmacSum(salted, "Server Key")
	serverSignature := hmacSum(serverKey, authMessage)

	return ClientFinal{
		Message:         clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof),
		ServerSignature: base64.StdEncoding.EncodeToString(serverSignature),
	}
}

// VerifyServerFinal parses an AuthenticationSASLFinal message ("v=<sig>")
// and reports whether it matches the expected signature computed during
// ComputeClientFinal.
func VerifyServerFinal(msg, expectedSignature string) error {
	fields := splitSCRAMFields(msg)

	sig, ok := fields["v"]
	if !ok {
		return errors.New("auth: server-final message missing signature")
	}

	if sig != expectedSignature {
		return errors.New("auth: server signature verification failed")
	}

	return nil
}

func hmacSum(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}

	return out
}
