package domain

import (
	"fmt"
	"strconv"
	"strings"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// ObjectID is the 128-bit opaque key of an object.
type ObjectID struct {
	Hi uint64
	Lo uint64
}

// String formats the identifier as "hi.lo" in hexadecimal.
func (o ObjectID) String() string {
	return fmt.Sprintf("%x.%x", o.Hi, o.Lo)
}

// ParseObjectID parses the "hi.lo" hexadecimal form. A single component is
// taken as the low half.
func ParseObjectID(s string) (ObjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ObjectID{}, fmt.Errorf("%w: empty", zerrors.ErrInvalidObjectID)
	}

	hiStr, loStr, found := strings.Cut(s, ".")
	if !found {
		hiStr, loStr = "0", hiStr
	}

	hi, err := strconv.ParseUint(hiStr, 16, 64)
	if err != nil {
		return ObjectID{}, fmt.Errorf("%w %q: %v", zerrors.ErrInvalidObjectID, s, err)
	}
	lo, err := strconv.ParseUint(loStr, 16, 64)
	if err != nil {
		return ObjectID{}, fmt.Errorf("%w %q: %v", zerrors.ErrInvalidObjectID, s, err)
	}

	return ObjectID{Hi: hi, Lo: lo}, nil
}
