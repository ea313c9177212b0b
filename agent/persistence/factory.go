package persistence

import (
	"fmt"
)

// NewKV creates a new KV based on the configuration
func NewKV(config StoreConfig) (KV, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryKV(), nil
	case StoreTypeFile:
		return NewFileKV(config)
	case StoreTypeRedis:
		return NewRedisKV(config)
	default:
		return nil, fmt.Errorf("unsupported kv store type: %s", config.Type)
	}
}

// MustNewKV creates a new KV or panics on error.
//
// WARNING: This function should ONLY be used during application initialization.
// For runtime store creation, use NewKV instead.
func MustNewKV(config StoreConfig) KV {
	store, err := NewKV(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create kv store: %v", err))
	}
	return store
}
