package networking

import (
	"github.com/frankli0324/go-networking/internal/dialer"
)

// Dialer opens the connection a request travels on, through a proxy when
// one is given. CoreDialer is the implementation shared by the handlers.
type (
	Dialer     = dialer.Dialer
	CoreDialer = dialer.CoreDialer
)

type (
	ProxyConfig   = dialer.ProxyConfig
	ResolveConfig = dialer.ResolveConfig
)
