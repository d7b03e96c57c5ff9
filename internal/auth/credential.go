// Package auth resolves the credential that authorizes private contract queries: either a
// viewing key bound to an owner address or a signed query permit.
package auth

import "errors"

var ErrNoCredential = errors.New("auth: no credential")

type Kind string

const (
	KindNone       Kind = ""
	KindViewingKey Kind = "viewing_key"
	KindPermit     Kind = "permit"
)

// ViewingKey is the viewer info sent alongside authenticated queries.
type ViewingKey struct {
	Key   string `json:"viewing_key"`
	Owner string `json:"address"`
}

// Credential holds at most one of ViewingKey or Permit. A permit wins if both are set.
type Credential struct {
	ViewingKey *ViewingKey `json:"viewing_key,omitempty"`
	Permit     *Permit     `json:"permit,omitempty"`
}

func FromViewingKey(key, owner string) Credential {
	return Credential{ViewingKey: &ViewingKey{Key: key, Owner: owner}}
}

func FromPermit(p Permit) Credential {
	return Credential{Permit: &p}
}

func (c Credential) Kind() Kind {
	switch {
	case c.Permit != nil:
		return KindPermit
	case c.ViewingKey != nil:
		return KindViewingKey
	default:
		return KindNone
	}
}

// Owner is the address the credential speaks for, when known.
func (c Credential) Owner() string {
	if c.Kind() == KindViewingKey {
		return c.ViewingKey.Owner
	}
	return ""
}

// WrapQuery shapes an authenticated query for the contract.
// Viewing key: {method: {...args, "viewer": {...}}}.
// Permit: {"with_permit": {"permit": ..., "query": {method: args}}}.
func (c Credential) WrapQuery(method string, args map[string]any) (map[string]any, error) {
	if method == "" {
		return nil, errors.New("auth: empty query method")
	}
	body := make(map[string]any, len(args)+1)
	for k, v := range args {
		body[k] = v
	}

	switch c.Kind() {
	case KindPermit:
		return map[string]any{
			"with_permit": map[string]any{
				"permit": c.Permit,
				"query":  map[string]any{method: body},
			},
		}, nil
	case KindViewingKey:
		body["viewer"] = c.ViewingKey
		return map[string]any{method: body}, nil
	default:
		return map[string]any{method: body}, nil
	}
}
