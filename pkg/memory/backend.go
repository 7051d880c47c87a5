package memory

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no durable record exists.
	ErrNotFound = errors.New("memory record not found")
	// ErrBackendClosed is returned after Close.
	ErrBackendClosed = errors.New("memory backend closed")
)

// Backend persists promoted records across restarts.
type Backend interface {
	Load(ctx context.Context, agent, partner string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Ping(ctx context.Context) error
	Close() error
}

// NopBackend keeps nothing.
type NopBackend struct{}

func (NopBackend) Load(context.Context, string, string) (*Record, error) { return nil, ErrNotFound }
func (NopBackend) Save(context.Context, *Record) error                    { return nil }
func (NopBackend) Ping(context.Context) error                             { return nil }
func (NopBackend) Close() error                                           { return nil }
