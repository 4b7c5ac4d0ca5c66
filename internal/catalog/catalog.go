// Package catalog caches what the server documents about its drivers: the
// set of installed drivers and the property defaults each driver applies
// to channels and devices.
//
// Entries are populated lazily on first use and never change afterwards.
// Concurrent misses for the same key share a single request; a failed
// request is not cached.
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/logging"
	"github.com/xtxerr/kepsync/internal/model"
)

var log = logging.Component("catalog")

// Doer sends a REST request. *client.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method, path string, body []byte) (int, []byte, error)
}

// driverSet is an immutable set of driver names.
type driverSet map[string]struct{}

// Catalog is a driver capability and property default cache. It is safe
// for concurrent use.
type Catalog struct {
	doer Doer

	drivers  atomic.Pointer[driverSet]
	defaults sync.Map // "driver/kind" -> model.Properties

	group singleflight.Group
}

// New creates an empty catalog.
func New(doer Doer) *Catalog {
	return &Catalog{doer: doer}
}

// =============================================================================
// Drivers
// =============================================================================

// Drivers returns the installed drivers, sorted.
func (c *Catalog) Drivers(ctx context.Context) ([]string, error) {
	set, err := c.driverSet(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// IsSupported reports whether driver is installed on the server.
func (c *Catalog) IsSupported(ctx context.Context, driver string) (bool, error) {
	set, err := c.driverSet(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[driver]
	return ok, nil
}

func (c *Catalog) driverSet(ctx context.Context) (driverSet, error) {
	if set := c.drivers.Load(); set != nil {
		return *set, nil
	}

	v, err, _ := c.group.Do("drivers", func() (interface{}, error) {
		if set := c.drivers.Load(); set != nil {
			return *set, nil
		}
		set, err := c.fetchDrivers(ctx)
		if err != nil {
			return nil, err
		}
		c.drivers.Store(&set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(driverSet), nil
}

func (c *Catalog) fetchDrivers(ctx context.Context) (driverSet, error) {
	var listing []map[string]any
	if err := c.get(ctx, constants.PathDrivers, &listing); err != nil {
		return nil, err
	}

	set := make(driverSet, len(listing))
	for _, d := range listing {
		if name, ok := d[constants.DriverDisplayName].(string); ok && name != "" {
			set[name] = struct{}{}
		}
	}
	log.Debug("drivers loaded", "count", len(set))
	return set, nil
}

// =============================================================================
// Defaults
// =============================================================================

// Defaults returns the property defaults driver applies to entities of
// kind. Only channels and devices have driver defaults; other kinds yield
// an empty set. The returned map is shared and must not be modified.
//
// Defaults implements sync.DefaultsProvider.
func (c *Catalog) Defaults(ctx context.Context, driver string, kind model.Kind) (model.Properties, error) {
	var collection string
	switch kind {
	case model.KindChannel:
		collection = constants.ChildChannels
	case model.KindDevice:
		collection = constants.ChildDevices
	default:
		return model.Properties{}, nil
	}

	key := driver + "/" + string(kind)
	if v, ok := c.defaults.Load(key); ok {
		return v.(model.Properties), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.defaults.Load(key); ok {
			return v, nil
		}
		defaults, err := c.fetchDefaults(ctx, driver, collection)
		if err != nil {
			return nil, err
		}
		actual, _ := c.defaults.LoadOrStore(key, defaults)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.Properties), nil
}

type propertyDefinition struct {
	SymbolicName string           `json:"symbolic_name"`
	DefaultValue *json.RawMessage `json:"default_value"`
}

type collectionDefinition struct {
	PropertyDefinitions []propertyDefinition `json:"property_definitions"`
}

func (c *Catalog) fetchDefaults(ctx context.Context, driver, collection string) (model.Properties, error) {
	path := constants.PathDrivers + "/" + url.PathEscape(driver) + "/" + collection

	var def collectionDefinition
	if err := c.get(ctx, path, &def); err != nil {
		return nil, err
	}

	defaults := make(model.Properties, len(def.PropertyDefinitions))
	for _, p := range def.PropertyDefinitions {
		// The driver is what selects these defaults; never strip it.
		if p.SymbolicName == "" || p.SymbolicName == constants.PropertyDeviceDriver || p.DefaultValue == nil {
			continue
		}
		var v model.Value
		if err := json.Unmarshal(*p.DefaultValue, &v); err != nil {
			log.Debug("skipping undecodable default", "driver", driver, "property", p.SymbolicName, "error", err)
			continue
		}
		defaults[p.SymbolicName] = v
	}

	log.Debug("driver defaults loaded", "driver", driver, "collection", collection, "count", len(defaults))
	return defaults, nil
}

func (c *Catalog) get(ctx context.Context, path string, out any) error {
	status, data, err := c.doer.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return errors.NewStatusError(http.MethodGet, path, status, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(errors.ErrMalformedResponse, "decode %s: %v", path, err)
	}
	return nil
}

// Reset discards every cached entry.
func (c *Catalog) Reset() {
	c.drivers.Store(nil)
	c.defaults.Range(func(k, _ any) bool {
		c.defaults.Delete(k)
		return true
	})
}
