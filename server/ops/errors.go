package ops

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrDryRunBusy   = errors.New("dry run already active", j.C("ERR_0d5b7e19c3a84f62"))
	ErrDryRunState  = errors.New("dry run not armed", j.C("ERR_94c2a61f8e0b7d35"))
	ErrHostStopping = errors.New("host is stopping", j.C("ERR_e6a3f0c9b2d18547"))
	ErrUnknownHost  = errors.New("unknown host", j.C("ERR_2f81d4b6a90ce371"))
)
