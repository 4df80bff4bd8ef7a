package domain

import "fmt"

// Endpoint is one of the relay operations. The set is closed: every switch
// over an Endpoint ends in a panicking default so a new member cannot be
// added without handling it on both the client and the relay.
type Endpoint int

const (
	EndpointPush Endpoint = iota
	EndpointUpdateDefaults
	EndpointDeleteDefaults

	endpointCount
)

// Endpoints returns every member of the endpoint set in declaration order.
func Endpoints() []Endpoint {
	out := make([]Endpoint, 0, endpointCount)
	for e := Endpoint(0); e < endpointCount; e++ {
		out = append(out, e)
	}
	return out
}

// Path is the URL path segment the endpoint is served on.
func (e Endpoint) Path() string {
	switch e {
	case EndpointPush:
		return "simulatorPush"
	case EndpointUpdateDefaults:
		return "updateDefaults"
	case EndpointDeleteDefaults:
		return "deleteDefaults"
	default:
		panic(fmt.Sprintf("domain: unknown endpoint %d", int(e)))
	}
}

func (e Endpoint) String() string {
	if e < 0 || e >= endpointCount {
		return fmt.Sprintf("endpoint(%d)", int(e))
	}
	return e.Path()
}
