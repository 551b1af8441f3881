// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package oplock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_AcquireRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := New()

	release, err := k.Acquire(ctx, "t_1/app/production/model")
	require.NoError(t, err)
	release()
	// release is idempotent
	release()

	release, err = k.Acquire(ctx, "t_1/app/production/model")
	require.NoError(t, err)
	release()
}

func Test_AcquireMissingKey(t *testing.T) {
	t.Parallel()
	k := New()
	_, err := k.Acquire(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.InvalidParameter), err))
}

func Test_AcquireBusy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond))

	release, err := k.Acquire(ctx, "contended")
	require.NoError(t, err)
	defer release()

	_, err = k.Acquire(ctx, "contended")
	require.Error(t, err)
	assert.True(t, errors.IsBusyError(err))
}

func Test_DifferentKeysDontContend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := New(WithMaxRetries(0))

	r1, err := k.Acquire(ctx, "a")
	require.NoError(t, err)
	defer r1()

	r2, err := k.Acquire(ctx, "b")
	require.NoError(t, err)
	defer r2()
}

func Test_SerializesConcurrentHolders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := New(WithMaxRetries(100), WithInitialInterval(time.Millisecond))

	var current, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, "same")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			current++
			if current > max {
				max = current
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max)
}

func Test_AcquireCanceledContext(t *testing.T) {
	t.Parallel()
	k := New(WithMaxRetries(20), WithInitialInterval(10*time.Millisecond))

	release, err := k.Acquire(context.Background(), "held")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "held")
	require.Error(t, err)
}
