package storage

import (
	"errors"

	"chatroom/pkg/interfaces"
)

var (
	ErrNotFound     = interfaces.ErrKeyNotFound
	ErrPrimaryWrite = errors.New("primary tier write failed")
	ErrStoreClosed  = errors.New("store is closed")
)
