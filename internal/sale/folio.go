package sale

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// Folio prefixes per transaction type. Folios are unique per type.
const (
	FolioPrefixSale         = "V"
	FolioPrefixReturn       = "D"
	FolioPrefixCancellation = "C"
)

const folioAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var folioPattern = regexp.MustCompile(`^[A-Z]\d{8}-[A-Z0-9]{6}$`)

// NewFolio builds a human-readable transaction id: {prefix}{YYYYMMDD}-{6 alnum}.
// Uniqueness is enforced by the database; callers retry on collision.
func NewFolio(prefix string, now time.Time) string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("folio: read random: %v", err))
	}
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = folioAlphabet[int(b)%len(folioAlphabet)]
	}
	return fmt.Sprintf("%s%s-%s", prefix, now.Format("20060102"), suffix)
}

// ValidFolio reports whether s looks like a folio this register issued.
func ValidFolio(s string) bool {
	return folioPattern.MatchString(s)
}
