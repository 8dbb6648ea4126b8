package protocol

import (
	"fmt"
	"net/url"
)

// Query parameter names of the bootstrap handshake.
const (
	ParamOrigin     = "fdc3-origin"
	ParamInstanceID = "fdc3-id"
	ParamContext    = "fdc3-context"
)

// Bootstrap is what a launched peer needs to find and identify itself to the
// broker: where the broker lives, the instance id it was assigned and an
// optional initial context.
type Bootstrap struct {
	Origin     string
	InstanceID string
	Context    Context
}

// Values encodes the bootstrap as query parameters.
func (b Bootstrap) Values() url.Values {
	v := url.Values{}
	v.Set(ParamOrigin, b.Origin)
	v.Set(ParamInstanceID, b.InstanceID)
	if !b.Context.IsZero() {
		v.Set(ParamContext, b.Context.String())
	}
	return v
}

// Apply returns target with the bootstrap parameters appended to its query.
func (b Bootstrap) Apply(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse launch url: %w", err)
	}
	q := u.Query()
	for k, vs := range b.Values() {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseBootstrap reads the handshake from query parameters.
func ParseBootstrap(params url.Values) (Bootstrap, error) {
	origin, id := params.Get(ParamOrigin), params.Get(ParamInstanceID)
	if origin == "" || id == "" {
		return Bootstrap{}, fmt.Errorf("%w: %s and %s are required", ErrMissingBootstrapParameters, ParamOrigin, ParamInstanceID)
	}
	b := Bootstrap{Origin: origin, InstanceID: id}
	if raw := params.Get(ParamContext); raw != "" {
		c, err := ParseContext([]byte(raw))
		if err != nil {
			return Bootstrap{}, fmt.Errorf("parse %s: %w", ParamContext, err)
		}
		b.Context = c
	}
	return b, nil
}

// ParseBootstrapURL reads the handshake from a launch URL.
func ParseBootstrapURL(raw string) (Bootstrap, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("parse launch url: %w", err)
	}
	return ParseBootstrap(u.Query())
}

// OriginOf returns scheme://host of a URL, the identity a peer is
// authenticated against.
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
