package client

import (
	"context"

	"github.com/ValentinKolb/hotrod/rpc/marshaller"
	"github.com/pkg/errors"
)

// TypedCache wraps a RemoteCache and marshals keys and values of fixed types
type TypedCache[K any, V any] struct {
	cache  *RemoteCache
	keys   marshaller.IMarshaller
	values marshaller.IMarshaller
}

// NewTypedCache creates a typed view on cache
func NewTypedCache[K any, V any](cache *RemoteCache, keys, values marshaller.IMarshaller) *TypedCache[K, V] {
	return &TypedCache[K, V]{cache: cache, keys: keys, values: values}
}

func (t *TypedCache[K, V]) key(k K) ([]byte, error) {
	b, err := t.keys.Marshal(k)
	if err != nil {
		return nil, errors.Wrap(err, "marshal key")
	}
	return b, nil
}

func (t *TypedCache[K, V]) decode(b []byte) (V, error) {
	var v V
	if err := t.values.Unmarshal(b, &v); err != nil {
		return v, errors.Wrap(err, "unmarshal value")
	}
	return v, nil
}

// Get returns the value of k, found is false if the key does not exist
func (t *TypedCache[K, V]) Get(ctx context.Context, k K) (value V, found bool, err error) {
	kb, err := t.key(k)
	if err != nil {
		return value, false, err
	}
	b, found, err := t.cache.Get(ctx, kb)
	if err != nil || !found {
		return value, false, err
	}
	value, err = t.decode(b)
	return value, err == nil, err
}

// Put stores v under k
func (t *TypedCache[K, V]) Put(ctx context.Context, k K, v V, opts ...WriteOption) error {
	kb, err := t.key(k)
	if err != nil {
		return err
	}
	vb, err := t.values.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal value")
	}
	_, err = t.cache.Put(ctx, kb, vb, opts...)
	return err
}

// PutIfAbsent stores v only if k does not exist, it reports whether the value was stored
func (t *TypedCache[K, V]) PutIfAbsent(ctx context.Context, k K, v V, opts ...WriteOption) (bool, error) {
	kb, err := t.key(k)
	if err != nil {
		return false, err
	}
	vb, err := t.values.Marshal(v)
	if err != nil {
		return false, errors.Wrap(err, "marshal value")
	}
	res, err := t.cache.PutIfAbsent(ctx, kb, vb, opts...)
	return res.Executed, err
}

// Replace stores v only if k already exists, it reports whether the value was stored
func (t *TypedCache[K, V]) Replace(ctx context.Context, k K, v V, opts ...WriteOption) (bool, error) {
	kb, err := t.key(k)
	if err != nil {
		return false, err
	}
	vb, err := t.values.Marshal(v)
	if err != nil {
		return false, errors.Wrap(err, "marshal value")
	}
	res, err := t.cache.Replace(ctx, kb, vb, opts...)
	return res.Executed, err
}

// Remove deletes k and reports whether it existed
func (t *TypedCache[K, V]) Remove(ctx context.Context, k K) (bool, error) {
	kb, err := t.key(k)
	if err != nil {
		return false, err
	}
	res, err := t.cache.Remove(ctx, kb)
	return res.Executed, err
}

// ContainsKey reports whether k exists
func (t *TypedCache[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	kb, err := t.key(k)
	if err != nil {
		return false, err
	}
	return t.cache.ContainsKey(ctx, kb)
}

// DecodeKey unmarshals a key received in an event
func (t *TypedCache[K, V]) DecodeKey(b []byte) (K, error) {
	var k K
	if err := t.keys.Unmarshal(b, &k); err != nil {
		return k, errors.Wrap(err, "unmarshal key")
	}
	return k, nil
}
