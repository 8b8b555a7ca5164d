package alm

import (
	"context"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// customFields gives an entity a custom field collection. The keys an
// entity may set come from the server.
type customFields struct {
	e      *entity
	fields *[]types.Custom
}

// AllowedCustomFieldKeys returns the custom field keys the server accepts
// for this entity.
func (h *customFields) AllowedCustomFieldKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := h.e.client.call(ctx, session.ServiceTracker, "getCustomFieldKeys", &keys, h.e.uri); err != nil {
		return nil, fmt.Errorf("custom field keys of %s: %w", h.e.uri, err)
	}
	return keys, nil
}

// CustomField returns the value stored under key and whether there is one.
func (h *customFields) CustomField(key string) (any, bool) {
	for _, c := range *h.fields {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// SetCustomField stores value under key and saves the custom fields at once
// in an update of their own. Inside an Edit scope the other pending fields
// are left for the scope's flush. A key outside AllowedCustomFieldKeys fails
// with types.ErrFieldNotAllowed before anything is written.
func (h *customFields) SetCustomField(ctx context.Context, key string, value any) error {
	allowed, err := h.AllowedCustomFieldKeys(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(allowed, key) {
		return fmt.Errorf("%w: %q on %s", types.ErrFieldNotAllowed, key, h.e.uri)
	}

	i := slices.IndexFunc(*h.fields, func(c types.Custom) bool { return c.Key == key })
	if i >= 0 {
		(*h.fields)[i].Value = value
	} else {
		*h.fields = append(*h.fields, types.Custom{Key: key, Value: value})
	}
	return h.e.saveKey(ctx, "customFields")
}
