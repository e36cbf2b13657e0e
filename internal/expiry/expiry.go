package expiry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrExpired = errors.New("card expired")

// ValidateYYMM checks that yymm is four digits with a month in 01..12.
func ValidateYYMM(yymm string) error {
	if len(yymm) != 4 {
		return fmt.Errorf("expiry must be YYMM (4 digits)")
	}
	for i := 0; i < 4; i++ {
		if yymm[i] < '0' || yymm[i] > '9' {
			return fmt.Errorf("expiry must be digits: YYMM")
		}
	}
	mm := int(yymm[2]-'0')*10 + int(yymm[3]-'0')
	if mm < 1 || mm > 12 {
		return fmt.Errorf("expiry month must be 01..12")
	}
	return nil
}

// ParseCardFace accepts "MM/YY" or "MMYY" as typed on checkout forms and returns YYMM.
func ParseCardFace(in string) (string, error) {
	s := strings.ReplaceAll(strings.TrimSpace(in), "/", "")
	if len(s) != 4 {
		return "", fmt.Errorf("card face must be MM/YY or MMYY")
	}
	yymm := s[2:] + s[:2]
	if err := ValidateYYMM(yymm); err != nil {
		return "", err
	}
	return yymm, nil
}

// ToMMYY converts a stored YYMM expiry to the MMYY form gateways expect.
func ToMMYY(yymm string) (string, error) {
	if err := ValidateYYMM(yymm); err != nil {
		return "", err
	}
	return yymm[2:] + yymm[:2], nil
}

// EndOfMonth returns the last instant of the YYMM month in loc (UTC when nil).
func EndOfMonth(yymm string, loc *time.Location) (time.Time, error) {
	if err := ValidateYYMM(yymm); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	yy, _ := strconv.Atoi(yymm[:2])
	mm, _ := strconv.Atoi(yymm[2:])

	firstNext := time.Date(2000+yy, time.Month(mm), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	return firstNext.Add(-time.Nanosecond), nil
}

// IsExpired reports whether at is strictly after the end of the YYMM month.
// A card stays usable through the whole expiry month.
func IsExpired(yymm string, at time.Time, loc *time.Location) (bool, error) {
	end, err := EndOfMonth(yymm, loc)
	if err != nil {
		return false, err
	}
	return at.In(end.Location()).After(end), nil
}

// Check returns ErrExpired when the card is past its expiry month in loc, or
// the format error when yymm is malformed.
func Check(yymm string, at time.Time, loc *time.Location) error {
	expired, err := IsExpired(yymm, at, loc)
	if err != nil {
		return err
	}
	if expired {
		return fmt.Errorf("%w: %s", ErrExpired, yymm)
	}
	return nil
}
