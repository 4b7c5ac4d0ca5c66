// Package client loads configuration entities from a server over an opaque
// REST transport and tracks whether the server is reachable.
//
// Transport failures never abort a reconciliation pass. They invalidate the
// connectivity state, so the next health check re-validates the server,
// and surface as errors wrapping errors.ErrConnectionFailed.
package client

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/kepsync/config"
	"github.com/xtxerr/kepsync/internal/constants"
	"github.com/xtxerr/kepsync/internal/endpoint"
	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/logging"
	"github.com/xtxerr/kepsync/internal/model"
)

var log = logging.Component("client")

// =============================================================================
// Client
// =============================================================================

// Client reads entities from the server. It is safe for concurrent use.
type Client struct {
	transport      Transport
	maxConcurrency int
	state          connState
}

// Config holds client configuration.
type Config struct {
	// MaxConcurrency bounds concurrent collection loads per level during
	// a deep project load (default: config.DefaultMaxConcurrency).
	MaxConcurrency int

	// OnConnectivityChange, if set, is called after every state change.
	OnConnectivityChange func(Connectivity)
}

// New creates a client over transport.
func New(transport Transport, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = config.DefaultMaxConcurrency
	}

	c := &Client{
		transport:      transport,
		maxConcurrency: maxConc,
	}
	c.state.onChange = cfg.OnConnectivityChange
	return c
}

// Connectivity returns the last known server reachability.
func (c *Client) Connectivity() Connectivity {
	return c.state.get()
}

// Do sends a request through the transport. Connectivity failures
// invalidate the connectivity state; cancellation does not.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	status, data, err := c.transport.Do(ctx, method, path, body)
	if err != nil {
		if errors.IsConnectivity(err) && ctx.Err() == nil {
			if c.state.get() != ConnectivityUnknown {
				log.Warn("connection lost", "method", method, "path", path, "error", err)
			}
			c.state.invalidate()
		}
		return status, nil, err
	}

	log.Debug("request",
		"method", method,
		"path", path,
		"status", status,
		"request_bytes", len(body),
		"response_bytes", len(data),
	)
	return status, data, nil
}

// =============================================================================
// Health Check
// =============================================================================

// ServerStatus is one entry of the status endpoint response.
type ServerStatus struct {
	Name    string `json:"Name"`
	Healthy bool   `json:"Healthy"`
}

// ProductInfo describes the server product.
type ProductInfo struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	ProductType    string `json:"product_type"`
	ProductVersion string `json:"product_version"`
}

// TestConnection checks that the server runtime is healthy. Product info
// and credentials are verified once per connected period; a transport
// failure anywhere in the client forces them to be checked again.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.checkStatus(ctx); err != nil {
		c.failConnection(ctx, err)
		return err
	}

	err := c.state.verify.DoWithError(func() error {
		info, err := c.ProductInfo(ctx)
		if err != nil {
			return err
		}
		if err := c.checkCredentials(ctx); err != nil {
			return err
		}
		log.Info("connected",
			"product", info.ProductName,
			"version", info.ProductVersion,
		)
		return nil
	})
	if err != nil {
		c.failConnection(ctx, err)
		return err
	}

	c.state.set(ConnectivityConnected)
	return nil
}

func (c *Client) failConnection(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if c.state.get() != ConnectivityDisconnected {
		log.Warn("connection check failed", "error", err)
	}
	c.state.set(ConnectivityDisconnected)
}

func (c *Client) checkStatus(ctx context.Context) error {
	status, data, err := c.transport.Do(ctx, http.MethodGet, constants.PathStatus, nil)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return errors.NewStatusError(http.MethodGet, constants.PathStatus, status, data)
	}

	var entries []ServerStatus
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrapf(errors.ErrMalformedResponse, "decode status: %v", err)
	}
	if len(entries) > 0 && !entries[0].Healthy {
		return errors.Wrapf(errors.ErrConnectionFailed, "server status %q is not healthy", entries[0].Name)
	}
	return nil
}

// ProductInfo loads the server product information.
func (c *Client) ProductInfo(ctx context.Context) (*ProductInfo, error) {
	status, data, err := c.transport.Do(ctx, http.MethodGet, constants.PathAbout, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, errors.NewStatusError(http.MethodGet, constants.PathAbout, status, data)
	}

	var info ProductInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "decode product info: %v", err)
	}
	return &info, nil
}

// checkCredentials reads the project, which requires valid credentials.
func (c *Client) checkCredentials(ctx context.Context) error {
	status, data, err := c.transport.Do(ctx, http.MethodGet, constants.PathProject, nil)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return errors.Wrap(errors.NewStatusError(http.MethodGet, constants.PathProject, status, data),
			"credentials rejected")
	}
	return nil
}

// =============================================================================
// Loaders
// =============================================================================

// LoadCollection loads the collection of kind below owners. A malformed
// body is logged and treated as an empty collection.
func (c *Client) LoadCollection(ctx context.Context, kind model.Kind, owners []model.Ref) ([]model.Entity, error) {
	path, err := endpoint.CollectionPath(kind, owners)
	if err != nil {
		return nil, err
	}

	status, data, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if errors.Is(err, errors.ErrMalformedResponse) {
			log.Warn("malformed collection response", "path", path, "error", err)
			return []model.Entity{}, nil
		}
		return nil, err
	}
	if !isSuccess(status) {
		return nil, errors.NewStatusError(http.MethodGet, path, status, data)
	}

	items, err := model.DecodeJSONList(kind, data, owners)
	if err != nil {
		if errors.IsStructural(err) {
			return nil, err
		}
		log.Warn("malformed collection response", "path", path, "error", err)
		return []model.Entity{}, nil
	}
	return items, nil
}

// LoadChildren loads the child collection of kind under parent. It
// implements sync.Reader.
func (c *Client) LoadChildren(ctx context.Context, parent model.Entity, kind model.Kind) ([]model.Entity, error) {
	return c.LoadCollection(ctx, kind, model.ChildOwners(parent))
}

// LoadItem loads the current remote state of e, identified by its name and
// owner chain. A missing entity or a malformed body yields an error
// matching errors.ErrNotFound.
func (c *Client) LoadItem(ctx context.Context, e model.Entity) (model.Entity, error) {
	path, err := endpoint.Of(e)
	if err != nil {
		return nil, err
	}
	return c.loadItem(ctx, e.Kind(), e.Meta().Owners(), path)
}

func (c *Client) loadItem(ctx context.Context, kind model.Kind, owners []model.Ref, path string) (model.Entity, error) {
	status, data, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if errors.Is(err, errors.ErrMalformedResponse) {
			log.Warn("malformed item response", "path", path, "error", err)
			return nil, errors.NewNotFound(string(kind), path)
		}
		return nil, err
	}
	if !isSuccess(status) {
		return nil, errors.NewStatusError(http.MethodGet, path, status, data)
	}

	item, err := model.DecodeJSON(kind, data, owners)
	if err != nil {
		if errors.IsStructural(err) {
			return nil, err
		}
		log.Warn("malformed item response", "path", path, "error", err)
		return nil, errors.NewNotFound(string(kind), path)
	}
	return item, nil
}

// LoadProject loads the project properties and its channel list. It
// implements sync.Reader.
func (c *Client) LoadProject(ctx context.Context) (*model.Project, error) {
	e, err := c.loadItem(ctx, model.KindProject, nil, constants.PathProject)
	if err != nil {
		return nil, err
	}
	project := e.(*model.Project)

	channels, err := c.LoadChildren(ctx, project, model.KindChannel)
	if err != nil {
		return nil, err
	}
	if err := model.SetChildren(project, model.KindChannel, channels); err != nil {
		return nil, err
	}
	return project, nil
}

// LoadProjectDeep loads the complete project tree. Sibling subtrees are
// loaded concurrently; any failed collection fails the whole load.
func (c *Client) LoadProjectDeep(ctx context.Context) (*model.Project, error) {
	project, err := c.LoadProject(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for _, ch := range project.Channels {
		g.Go(func() error {
			return c.loadSubtree(gctx, ch)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug("project loaded", "channels", len(project.Channels))
	return project, nil
}

// loadSubtree loads every child collection below parent. Child kinds of
// one parent load one after another; siblings fan out.
func (c *Client) loadSubtree(ctx context.Context, parent model.Entity) error {
	var next []model.Entity
	for _, kind := range childKinds(parent.Kind()) {
		children, err := c.LoadChildren(ctx, parent, kind)
		if err != nil {
			return err
		}
		if err := model.SetChildren(parent, kind, children); err != nil {
			return err
		}
		if kind != model.KindTag {
			next = append(next, children...)
		}
	}
	if len(next) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for _, child := range next {
		g.Go(func() error {
			return c.loadSubtree(gctx, child)
		})
	}
	return g.Wait()
}

func childKinds(kind model.Kind) []model.Kind {
	switch kind {
	case model.KindChannel:
		return []model.Kind{model.KindDevice}
	case model.KindDevice, model.KindTagGroup:
		return []model.Kind{model.KindTag, model.KindTagGroup}
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
