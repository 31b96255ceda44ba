package config

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

var errReadBytesNotSupported = errors.New("config: map provider has no byte form")

// flatProvider feeds a map with dotted keys into koanf.
type flatProvider map[string]any

func (m flatProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m flatProvider) Read() (map[string]any, error) {
	return maps.Unflatten(map[string]any(m), "."), nil
}
