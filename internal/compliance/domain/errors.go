package compliance

import "errors"

// ErrNotFound indicates a missing violation or score record.
var ErrNotFound = errors.New("compliance: not found")
