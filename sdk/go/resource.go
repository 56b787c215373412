package svcdesksdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Resource is a CRUD collection under Path. It satisfies the remote interface
// of the optimistic coordinator.
type Resource[T any, In any] struct {
	Client *Client
	Path   string
}

func (r Resource[T, In]) List(ctx context.Context, filter url.Values) ([]T, error) {
	var out []T
	err := r.Client.do(ctx, http.MethodGet, withQuery(r.Path, filter), nil, &out)
	return out, err
}

func (r Resource[T, In]) Get(ctx context.Context, id int64) (T, error) {
	var out T
	err := r.Client.do(ctx, http.MethodGet, fmt.Sprintf("%s/%d", r.Path, id), nil, &out)
	return out, err
}

func (r Resource[T, In]) Create(ctx context.Context, in In) (T, error) {
	var out T
	err := r.Client.do(ctx, http.MethodPost, r.Path, in, &out)
	return out, err
}

func (r Resource[T, In]) Update(ctx context.Context, id int64, in In) (T, error) {
	var out T
	err := r.Client.do(ctx, http.MethodPut, fmt.Sprintf("%s/%d", r.Path, id), in, &out)
	return out, err
}

func (r Resource[T, In]) Delete(ctx context.Context, id int64) error {
	return r.Client.do(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", r.Path, id), nil, nil)
}
