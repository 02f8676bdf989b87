package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange        = errors.New("invalid grid range")
	ErrInsufficientLevels  = errors.New("grid needs at least 2 levels")
	ErrInvalidBalance      = errors.New("invalid balance")
	ErrReplacementTooSmall = errors.New("replacement quantity rounds to zero")
	ErrUnknownLevel        = errors.New("order level outside grid")
)

// GeometryError 网格参数错误（配置期致命，拒绝构建）。
type GeometryError struct {
	Field string
	Err   error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("grid %s: %v", e.Field, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }
