package gateway

import (
	"fmt"
	"strings"

	"oms-gateway/pkg/venue"
	"oms-gateway/pkg/venue/kite"
	"oms-gateway/pkg/venue/mock"
)

// Venues maps a venue name (case-insensitive) to its collaborator factory.
type Venues map[string]venue.Factory

// Build creates the collaborator for one tenant.
func (v Venues) Build(name string, creds venue.Credentials) (venue.Venue, error) {
	f, ok := v[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, name)
	}
	return f(creds)
}

// DefaultVenues wires the Kite Connect collaborator under the names the OMS
// uses for it.
func DefaultVenues(cfg kite.Config) Venues {
	f := func(creds venue.Credentials) (venue.Venue, error) {
		return kite.New(cfg, creds)
	}
	return Venues{"zerodha": f, "kite": f}
}

// DryRunVenues answers every venue name with an in-memory account.
func DryRunVenues(names ...string) Venues {
	out := make(Venues, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = mock.Factory(n, mock.WithEcho())
	}
	return out
}
