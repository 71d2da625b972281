// Package objectstore serves plan external data from an object storage bucket.
//
// A path names either one object ("weekly/menu.json") or a prefix
// ("weekly/menus"). A prefix is read as a JSON object keyed by item name.
// Appending "/~" to a prefix switches to split mode: each object under it
// becomes one item, named after the object's base name without extension.
package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/source"
	"github.com/timmy/planmail/internal/storage"
)

// maxObjectSize caps a single external data object.
const maxObjectSize = 4 << 20

// Provider implements source.ExternalDataProvider over ObjectStorage.
type Provider struct {
	store storage.ObjectStorage
}

var _ source.ExternalDataProvider = (*Provider)(nil)

// NewProvider creates a Provider reading from store.
func NewProvider(store storage.ObjectStorage) *Provider {
	return &Provider{store: store}
}

// Load implements source.ExternalDataProvider.
func (p *Provider) Load(ctx context.Context, dataPath string) (source.Payload, error) {
	if strings.TrimSpace(dataPath) == "" {
		return source.Payload{}, nil
	}
	base := source.BasePath(dataPath)

	if source.IsSplitPath(dataPath) {
		items, err := p.loadItems(ctx, base)
		if err != nil {
			return source.Payload{}, err
		}
		scalar, err := aggregate(items)
		if err != nil {
			return source.Payload{}, err
		}
		logger.CtxDebug(ctx, "Loaded %d split items from %s", len(items), base)
		return source.Payload{Scalar: scalar, Items: items}, nil
	}

	exists, err := p.store.Exists(ctx, base)
	if err != nil {
		return source.Payload{}, errs.Mark(errs.Wrapf(err, "check external data %s", base), errs.KindConfig)
	}
	if exists {
		body, err := p.read(ctx, base)
		if err != nil {
			return source.Payload{}, err
		}
		return source.Payload{Scalar: body}, nil
	}

	items, err := p.loadItems(ctx, base)
	if err != nil {
		return source.Payload{}, err
	}
	scalar, err := aggregate(items)
	if err != nil {
		return source.Payload{}, err
	}
	return source.Payload{Scalar: scalar}, nil
}

func (p *Provider) loadItems(ctx context.Context, prefix string) ([]source.Item, error) {
	keys, err := p.store.List(ctx, prefix+"/")
	if err != nil {
		return nil, errs.Mark(errs.Wrapf(err, "list external data %s", prefix), errs.KindConfig)
	}
	if len(keys) == 0 {
		return nil, errs.Markf(errs.KindConfig, "external data %s has no objects", prefix)
	}

	items := make([]source.Item, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		body, err := p.read(ctx, key)
		if err != nil {
			return nil, err
		}
		items = append(items, source.Item{Name: itemName(key), Payload: body})
	}
	return items, nil
}

func (p *Provider) read(ctx context.Context, key string) (string, error) {
	rc, err := p.store.Download(ctx, key)
	if err != nil {
		return "", errs.Mark(errs.Wrapf(err, "read external data %s", key), errs.KindConfig)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxObjectSize+1))
	if err != nil {
		return "", errs.Wrapf(err, "read external data %s", key)
	}
	if len(body) > maxObjectSize {
		return "", errs.Markf(errs.KindConfig, "external data %s exceeds %d bytes", key, maxObjectSize)
	}
	return string(body), nil
}

func itemName(key string) string {
	name := path.Base(key)
	return strings.TrimSuffix(name, path.Ext(name))
}

// aggregate renders items as one JSON object. Payloads that are valid JSON
// are embedded as values, anything else as a string.
func aggregate(items []source.Item) (string, error) {
	all := make(map[string]interface{}, len(items))
	for _, it := range items {
		var v interface{}
		if err := json.Unmarshal([]byte(it.Payload), &v); err != nil {
			v = it.Payload
		}
		all[it.Name] = v
	}
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return "", errs.Wrap(err, "encode external data")
	}
	return string(b), nil
}
