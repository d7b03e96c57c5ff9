// Package tokenloc identifies the on-chain token a bootloader instance represents.
package tokenloc

import (
	"errors"
	"net/url"
	"strings"

	"github.com/nfps-dev/nfp-bootloader/internal/constants"
)

// Query parameter names accepted as boot-time overrides.
const (
	ParamTokenID    = "token-id"
	ParamOwner      = "owner"
	ParamViewingKey = "vk"
)

// Location is (chain id, contract address, token id).
type Location struct {
	ChainID  string `json:"chain_id"`
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
}

func (l Location) Validate() error {
	var errs []error
	if strings.TrimSpace(l.ChainID) == "" {
		errs = append(errs, errors.New("chain id is empty"))
	}
	if strings.TrimSpace(l.Contract) == "" {
		errs = append(errs, errors.New("contract address is empty"))
	}
	if strings.TrimSpace(l.TokenID) == "" {
		errs = append(errs, errors.New("token id is empty"))
	}
	return errors.Join(errs...)
}

func (l Location) String() string {
	return l.ChainID + ":" + l.Contract + ":" + l.TokenID
}

func (l Location) key(prefix string) string {
	return prefix + ":" + l.String()
}

// OwnerKey is the cache key of the token owner address.
func (l Location) OwnerKey() string { return l.key(constants.OwnerKeyPrefix) }

// ViewingKeyKey is the cache key of the viewing key.
func (l Location) ViewingKeyKey() string { return l.key(constants.ViewingKeyKeyPrefix) }

// PermitKey is the cache key of the query permit.
func (l Location) PermitKey() string { return l.key(constants.PermitKeyPrefix) }

// Overrides are explicit identity values supplied at boot. A field counts as supplied even
// when empty, so "owner=" beats a cached owner.
type Overrides struct {
	Owner      *string
	ViewingKey *string
}

// FromQuery applies the token-id parameter to base and extracts owner/vk overrides.
func FromQuery(base Location, q url.Values) (Location, Overrides) {
	loc := base
	if q.Has(ParamTokenID) {
		loc.TokenID = strings.TrimSpace(q.Get(ParamTokenID))
	}

	var ov Overrides
	if q.Has(ParamOwner) {
		v := strings.TrimSpace(q.Get(ParamOwner))
		ov.Owner = &v
	}
	if q.Has(ParamViewingKey) {
		v := q.Get(ParamViewingKey)
		ov.ViewingKey = &v
	}
	return loc, ov
}

// ParseQuery accepts "a=b&c=d", "?a=b" or a full URL.
func ParseQuery(raw string) (url.Values, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return url.Values{}, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		return u.Query(), nil
	}
	return url.ParseQuery(strings.TrimPrefix(raw, "?"))
}
