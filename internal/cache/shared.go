// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"time"
)

// Shared is the cross-instance cache tier.  A nil entry from Get is a miss;
// implementations must never surface plaintext secrets, which is why the
// tiered cache only hands them shared-form (encrypted) entries.
type Shared interface {
	// Get returns the entry for key, or nil on a miss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry under key for ttl; ttl <= 0 stores without
	// expiry.
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key with the prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Publish broadcasts an invalidation message to every subscriber,
	// including the publisher's own instance.
	Publish(ctx context.Context, msg string) error

	// Subscribe invokes fn for each invalidation message until the returned
	// cancel func is called.
	Subscribe(ctx context.Context, fn func(msg string)) (cancel func(), err error)
}
