package peer

import (
	"fmt"
	"strings"
)

// Scheme is the TLS-or-not flag carried by an endpoint.
type Scheme int

const (
	SchemeInferred Scheme = iota
	SchemePlaintext
	SchemeTLS
)

// Endpoint is a single host:port, as parsed from the configured hosts
// list.
type Endpoint struct {
	Authority string // host:port, scheme stripped
	Scheme    Scheme
}

// ParseEndpoint splits a configured host string into authority + scheme.
func ParseEndpoint(raw string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return Endpoint{Authority: strings.TrimPrefix(raw, "https://"), Scheme: SchemeTLS}, nil
	case strings.HasPrefix(raw, "http://"):
		return Endpoint{Authority: strings.TrimPrefix(raw, "http://"), Scheme: SchemePlaintext}, nil
	case raw == "":
		return Endpoint{}, fmt.Errorf("kvcoord: empty host")
	default:
		return Endpoint{Authority: raw, Scheme: SchemeInferred}, nil
	}
}

// ParseEndpoints parses every host and rejects a mix of explicit
// http/https schemes.
func ParseEndpoints(hosts []string) ([]Endpoint, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("kvcoord: at least one host is required")
	}
	endpoints := make([]Endpoint, 0, len(hosts))
	sawPlaintext, sawTLS := false, false
	for _, h := range hosts {
		ep, err := ParseEndpoint(h)
		if err != nil {
			return nil, err
		}
		switch ep.Scheme {
		case SchemePlaintext:
			sawPlaintext = true
		case SchemeTLS:
			sawTLS = true
		}
		endpoints = append(endpoints, ep)
	}
	if sawPlaintext && sawTLS {
		return nil, fmt.Errorf("kvcoord: hosts mix http:// and https:// schemes")
	}
	return endpoints, nil
}
