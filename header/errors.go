package header

import "errors"

// ErrTCPOptionMalformed is returned by ForEachOption when the options bytes
// are truncated or declare an impossible length.
var ErrTCPOptionMalformed = errors.New("header: malformed tcp option")
