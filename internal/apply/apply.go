// Package apply writes reconciliation results to the server: paged
// inserts, diff-only updates and deletes.
//
// Every remote failure is reported per item in the returned outcomes and
// logged with the response status and body. Only structural errors and
// context cancellation are returned as errors.
package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xtxerr/kepsync/config"
	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/endpoint"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/logging"
	"github.com/xtxerr/kepsync/internal/model"
	"github.com/xtxerr/kepsync/internal/sync"
)

var log = logging.Component("apply")

// Remote is the server access the applier needs. *client.Client
// satisfies it.
type Remote interface {
	Do(ctx context.Context, method, path string, body []byte) (int, []byte, error)
	LoadItem(ctx context.Context, e model.Entity) (model.Entity, error)
}

// DriverChecker reports whether a driver is installed on the server.
// *catalog.Catalog satisfies it.
type DriverChecker interface {
	IsSupported(ctx context.Context, driver string) (bool, error)
}

// Config holds applier configuration.
type Config struct {
	// PageSize is the number of entities per insert request
	// (default: config.DefaultPageSize).
	PageSize int

	// Drivers, if set, excludes channels and devices whose driver is not
	// installed from inserts.
	Drivers DriverChecker
}

// Applier implements sync.Applier against the REST API.
type Applier struct {
	remote   Remote
	pageSize int
	drivers  DriverChecker
}

// New creates an applier.
func New(remote Remote, cfg *Config) *Applier {
	if cfg == nil {
		cfg = &Config{}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	return &Applier{
		remote:   remote,
		pageSize: pageSize,
		drivers:  cfg.Drivers,
	}
}

var _ sync.Applier = (*Applier)(nil)

// =============================================================================
// Insert
// =============================================================================

// Insert posts items to the collection of kind below owners in pages of
// PageSize. Entities carry their loaded children in the request body.
func (a *Applier) Insert(ctx context.Context, owners []model.Ref, kind model.Kind, items []model.Entity) ([]sync.Outcome, error) {
	out := make([]sync.Outcome, len(items))
	if len(items) == 0 {
		return out, nil
	}

	path, err := endpoint.CollectionPath(kind, owners)
	if err != nil {
		return nil, err
	}

	// Positions of the items that pass the driver filter.
	pending := a.filterDrivers(ctx, kind, items, out)

	for start := 0; start < len(pending); start += a.pageSize {
		end := min(start+a.pageSize, len(pending))
		page := make([]model.Entity, 0, end-start)
		for _, i := range pending[start:end] {
			page = append(page, items[i])
		}

		results, err := a.insertPage(ctx, path, page)
		if err != nil {
			return nil, err
		}
		for j, i := range pending[start:end] {
			out[i] = results[j]
		}
	}

	return out, nil
}

// filterDrivers marks channels and devices with an uninstalled driver as
// failed and returns the positions of the remaining items.
func (a *Applier) filterDrivers(ctx context.Context, kind model.Kind, items []model.Entity, out []sync.Outcome) []int {
	pending := make([]int, 0, len(items))
	filter := a.drivers != nil && (kind == model.KindChannel || kind == model.KindDevice)

	for i, e := range items {
		name := e.Meta().Name
		out[i] = sync.Outcome{Name: name}
		if !filter {
			pending = append(pending, i)
			continue
		}

		driver, err := model.GetProperty[string](e, constants.PropertyDeviceDriver)
		if err != nil {
			pending = append(pending, i)
			continue
		}
		ok, err := a.drivers.IsSupported(ctx, driver)
		if err != nil {
			logging.FromContext(ctx, log).Warn("driver list unavailable, not filtering",
				"kind", kind, "error", err)
			filter = false
			pending = append(pending, i)
			continue
		}
		if !ok {
			logging.FromContext(ctx, log).Warn("driver not installed, skipping insert",
				"kind", kind, "name", name, "driver", driver)
			out[i].Err = fmt.Errorf("driver %q is not installed", driver)
			continue
		}
		pending = append(pending, i)
	}
	return pending
}

func (a *Applier) insertPage(ctx context.Context, path string, page []model.Entity) ([]sync.Outcome, error) {
	out := make([]sync.Outcome, len(page))
	for i, e := range page {
		out[i].Name = e.Meta().Name
	}

	body, err := model.EncodeJSON(page)
	if err != nil {
		return nil, err
	}

	status, data, err := a.remote.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.FromContext(ctx, log).Warn("insert failed", "path", path, "count", len(page), "error", err)
		return failAll(out, err), nil
	}

	switch {
	case status == http.StatusMultiStatus:
		flags := decodeMultiStatus(data, len(page))
		failed := 0
		for i := range out {
			out[i].OK = flags[i]
			if !flags[i] {
				failed++
				out[i].Err = errors.NewStatusError(http.MethodPost, path, status, nil)
			}
		}
		logging.FromContext(ctx, log).Warn("insert partially failed",
			"path", path, "count", len(page), "failed", failed, "body", truncate(data))

	case status == http.StatusOK || status == http.StatusCreated:
		for i := range out {
			out[i].OK = true
		}
		logging.FromContext(ctx, log).Info("inserted", "path", path, "count", len(page))

	default:
		err := errors.NewStatusError(http.MethodPost, path, status, data)
		logging.FromContext(ctx, log).Error("insert failed",
			"path", path, "count", len(page), "status", status, "body", truncate(data))
		failAll(out, err)
	}

	return out, nil
}

// decodeMultiStatus returns one success flag per item. Entries report their
// status in "code" or "statusCode"; missing or undecodable entries count
// as failed.
func decodeMultiStatus(data []byte, n int) []bool {
	flags := make([]bool, n)

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn("malformed multi-status body", "error", err)
		return flags
	}

	for i := 0; i < n && i < len(entries); i++ {
		for _, key := range []string{"code", "statusCode"} {
			raw, ok := entries[i][key]
			if !ok {
				continue
			}
			var code int
			if err := json.Unmarshal(raw, &code); err == nil {
				flags[i] = code >= 200 && code < 300
				break
			}
		}
	}
	return flags
}

// =============================================================================
// Update
// =============================================================================

// Update reloads each target, computes the properties that differ from
// the source and PUTs only those. A pair with nothing to send is a
// successful no-op. A target that no longer exists is a failure.
func (a *Applier) Update(ctx context.Context, pairs []sync.Pair[model.Entity]) ([]sync.Outcome, error) {
	out := make([]sync.Outcome, len(pairs))
	for i, p := range pairs {
		o, err := a.update(ctx, p)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

func (a *Applier) update(ctx context.Context, p sync.Pair[model.Entity]) (sync.Outcome, error) {
	o := sync.Outcome{Name: p.Target.Meta().Name}
	kind := p.Target.Kind()

	path, err := endpoint.Of(p.Target)
	if err != nil {
		return o, err
	}

	current, err := a.remote.LoadItem(ctx, p.Target)
	if err != nil {
		if errors.IsStructural(err) || ctx.Err() != nil {
			return o, firstErr(ctx.Err(), err)
		}
		if errors.IsNotFound(err) {
			logging.FromContext(ctx, log).Error("update target no longer exists", "kind", kind, "path", path)
		} else {
			logging.FromContext(ctx, log).Warn("update reload failed", "kind", kind, "path", path, "error", err)
		}
		o.Err = err
		return o, nil
	}

	diff, err := model.UpdateDiff(p.Source, current)
	if err != nil {
		if errors.IsStructural(err) {
			return o, err
		}
		o.Err = err
		return o, nil
	}
	if len(diff) == 0 {
		o.OK, o.Noop = true, true
		logging.FromContext(ctx, log).Debug("update has no changes", "kind", kind, "path", path)
		return o, nil
	}

	body, err := model.EncodeDiff(kind, diff)
	if err != nil {
		return o, err
	}

	status, data, err := a.remote.Do(ctx, http.MethodPut, path, body)
	if err != nil {
		if ctx.Err() != nil {
			return o, ctx.Err()
		}
		logging.FromContext(ctx, log).Warn("update failed", "kind", kind, "path", path, "error", err)
		o.Err = err
		return o, nil
	}
	if status < 200 || status >= 300 {
		o.Err = errors.NewStatusError(http.MethodPut, path, status, data)
		logging.FromContext(ctx, log).Error("update failed",
			"kind", kind, "path", path, "status", status, "body", truncate(data))
		return o, nil
	}

	o.OK = true
	logging.FromContext(ctx, log).Info("updated", "kind", kind, "path", path, "properties", len(diff))
	return o, nil
}

// =============================================================================
// Delete
// =============================================================================

// Delete removes items by their item endpoint. An empty input issues no
// requests.
func (a *Applier) Delete(ctx context.Context, items []model.Entity) ([]sync.Outcome, error) {
	out := make([]sync.Outcome, len(items))
	for i, e := range items {
		out[i].Name = e.Meta().Name

		path, err := endpoint.Of(e)
		if err != nil {
			return nil, err
		}

		status, data, err := a.remote.Do(ctx, http.MethodDelete, path, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.FromContext(ctx, log).Warn("delete failed", "kind", e.Kind(), "path", path, "error", err)
			out[i].Err = err
			continue
		}
		if status < 200 || status >= 300 {
			out[i].Err = errors.NewStatusError(http.MethodDelete, path, status, data)
			logging.FromContext(ctx, log).Error("delete failed",
				"kind", e.Kind(), "path", path, "status", status, "body", truncate(data))
			continue
		}

		out[i].OK = true
		logging.FromContext(ctx, log).Info("deleted", "kind", e.Kind(), "path", path)
	}
	return out, nil
}

// =============================================================================
// Helpers
// =============================================================================

func failAll(out []sync.Outcome, err error) []sync.Outcome {
	for i := range out {
		out[i].OK = false
		out[i].Err = err
	}
	return out
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

const maxLoggedBody = 512

func truncate(data []byte) string {
	if len(data) > maxLoggedBody {
		return string(data[:maxLoggedBody]) + "..."
	}
	return string(data)
}
