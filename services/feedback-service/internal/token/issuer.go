package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Issuer derives deterministic capability tokens binding a booking to a
// claimed identity. Tokens are never stored: they are recomputed from the same
// inputs wherever validation is needed. A token proves nothing on its own;
// booking eligibility is re-checked at submission time.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Issue returns the hex HMAC-SHA256 fingerprint of (bookingID, email, phone)
// under the server secret. Identical inputs yield an identical token for the
// lifetime of the secret.
func (i *Issuer) Issue(bookingID int64, email, phone string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(strconv.FormatInt(bookingID, 10)))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strings.TrimSpace(phone)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches recomputes the token for the given inputs and compares it to the
// supplied value in constant time.
func (i *Issuer) Matches(supplied string, bookingID int64, email, phone string) bool {
	expected := i.Issue(bookingID, email, phone)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(supplied)))
}
