package parse

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	// ErrStatusUnavailable is returned for a well-formed frame whose body
	// reports that the remote tool could not produce a status.
	ErrStatusUnavailable = errors.New("status unavailable", j.C("ERR_3b9f0c1e7d2a4c55"))
	ErrParse             = errors.New("malformed status", j.C("ERR_8e41d6a09b7f23c1"))
)
