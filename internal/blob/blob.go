// Package blob is the entry point for file storage. It re-exports the core
// contract and constructs the configured backend; nothing outside this
// package imports internal/infra/blob directly.
package blob

import (
	"assetcore/internal/blob/core"
	infrafs "assetcore/internal/infra/blob/fs"
	infraMemory "assetcore/internal/infra/blob/memory"
	infraS3 "assetcore/internal/infra/blob/s3"
	"context"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3-compatible backend.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrForeignURL  = core.ErrForeignURL
)

// NewMemory returns a process-local store.
func NewMemory() Store { return infraMemory.New() }

// NewFilesystem returns a store rooted at root whose URLs start with baseURL.
func NewFilesystem(root, baseURL string) (Store, error) { return infrafs.New(root, baseURL) }

// NewS3 constructs an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infraS3.New(ctx, cfg) }

// NewMockS3ForTests exposes the fake-transport S3 store for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
