package biz

import (
	"errors"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(NewIDAllocator, NewCodec, NewURLUsecase)

var (
	// ErrShortCodeExists is returned by ShortLinkRepo.Save when the short
	// code collides with an existing row (storage uniqueness constraint).
	ErrShortCodeExists = errors.New("short code already exists")

	// ErrLinkNotFound is returned when no link matches the short code.
	ErrLinkNotFound = errors.New("short link not found")
)
