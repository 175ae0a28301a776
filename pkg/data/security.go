package data

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSecurityID indicates a malformed "SYMBOL@BOARD" identifier.
var ErrInvalidSecurityID = errors.New("data: invalid security id")

// SecurityID identifies one instrument as a symbol plus listing board,
// e.g. "AAPL@NASDAQ".
type SecurityID struct {
	Symbol string
	Board  string
}

// ParseSecurityID splits a "SYMBOL@BOARD" string into its parts.
func ParseSecurityID(s string) (SecurityID, error) {
	symbol, board, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || symbol == "" || board == "" {
		return SecurityID{}, fmt.Errorf("%w: %q", ErrInvalidSecurityID, s)
	}
	return SecurityID{Symbol: symbol, Board: board}, nil
}

// MustSecurityID is ParseSecurityID that panics on error, for tests and
// literals.
func MustSecurityID(s string) SecurityID {
	id, err := ParseSecurityID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id SecurityID) String() string {
	return id.Symbol + "@" + id.Board
}

// IsZero reports whether the id is empty.
func (id SecurityID) IsZero() bool {
	return id.Symbol == "" && id.Board == ""
}

// Security holds the instrument metadata needed to interpret scaled
// decimal price and volume fields.
type Security struct {
	ID          SecurityID
	PriceScale  uint8 // decimal digits in price fields
	VolumeScale uint8 // decimal digits in volume fields
	PriceStep   int64 // minimal price increment, in scaled units
}

// SecurityProvider resolves instrument metadata for a security id.
// Implementations: the Postgres-backed catalog and an in-memory map.
type SecurityProvider interface {
	LookupSecurity(id SecurityID) (Security, bool)
}

// StaticSecurityProvider is a fixed in-memory SecurityProvider.
type StaticSecurityProvider map[SecurityID]Security

// LookupSecurity implements SecurityProvider.
func (p StaticSecurityProvider) LookupSecurity(id SecurityID) (Security, bool) {
	sec, ok := p[id]
	return sec, ok
}
