package testutil

import (
	"errors"

	"github.com/iot-monitor/chartengine/internal/storage"
)

// ErrStorageDown is returned by every FailingStorage operation.
var ErrStorageDown = errors.New("storage unavailable")

// FailingStorage is a storage.SessionStorage whose every operation fails.
type FailingStorage struct{}

var _ storage.SessionStorage = FailingStorage{}

func (FailingStorage) Get(key string) ([]byte, error)       { return nil, ErrStorageDown }
func (FailingStorage) Set(key string, value []byte) error   { return ErrStorageDown }
func (FailingStorage) Remove(key string) error              { return ErrStorageDown }
func (FailingStorage) Keys(prefix string) ([]string, error) { return nil, ErrStorageDown }
func (FailingStorage) Clear() error                         { return ErrStorageDown }
