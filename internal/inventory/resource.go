package inventory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Doer performs one authorized API call. *apiclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Resource is a CRUD collection under one API path, e.g. "/products".
type Resource[T any] struct {
	c    Doer
	path string
}

func NewResource[T any](c Doer, path string) *Resource[T] {
	return &Resource[T]{c: c, path: "/" + strings.Trim(path, "/")}
}

func (r *Resource[T]) Path() string { return r.path }

func (r *Resource[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	if err := r.c.Do(ctx, http.MethodGet, r.path, nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", r.path, err)
	}
	return out, nil
}

func (r *Resource[T]) Get(ctx context.Context, id int64) (T, error) {
	var out T
	if err := r.c.Do(ctx, http.MethodGet, r.item(id), nil, &out); err != nil {
		return out, fmt.Errorf("get %s: %w", r.item(id), err)
	}
	return out, nil
}

func (r *Resource[T]) Create(ctx context.Context, in any) (T, error) {
	var out T
	if err := r.c.Do(ctx, http.MethodPost, r.path, in, &out); err != nil {
		return out, fmt.Errorf("create in %s: %w", r.path, err)
	}
	return out, nil
}

func (r *Resource[T]) Update(ctx context.Context, id int64, in any) (T, error) {
	var out T
	if err := r.c.Do(ctx, http.MethodPut, r.item(id), in, &out); err != nil {
		return out, fmt.Errorf("update %s: %w", r.item(id), err)
	}
	return out, nil
}

func (r *Resource[T]) Delete(ctx context.Context, id int64) error {
	if err := r.c.Do(ctx, http.MethodDelete, r.item(id), nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", r.item(id), err)
	}
	return nil
}

func (r *Resource[T]) item(id int64) string {
	return fmt.Sprintf("%s/%d", r.path, id)
}
