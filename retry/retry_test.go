// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/docpipe/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithBackoffSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), func() error {
		calls++
		return nil
	}, 3, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithBackoffEventualSuccess(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: transient outage", core.ErrProviderUnavailable)
		}
		return nil
	}, 5, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffPermanentErrorNotRetried(t *testing.T) {
	permanent := fmt.Errorf("%w: pdf trailer missing", core.ErrCorruptInput)
	calls := 0
	err := WithBackoff(context.Background(), func() error {
		calls++
		return permanent
	}, 5, time.Millisecond)

	assert.ErrorIs(t, err, core.ErrCorruptInput)
	assert.Equal(t, 1, calls, "permanent failures fail fast")
}

func TestWithBackoffExhaustsAttempts(t *testing.T) {
	transient := fmt.Errorf("%w: still down", core.ErrStorageUnavailable)
	calls := 0
	err := WithBackoff(context.Background(), func() error {
		calls++
		return transient
	}, 3, time.Millisecond)

	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffInvalidMaxAttempts(t *testing.T) {
	err := WithBackoff(context.Background(), func() error { return nil }, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestWithBackoffContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithBackoff(ctx, func() error {
		calls++
		cancel()
		return fmt.Errorf("%w: interrupted", core.ErrProviderUnavailable)
	}, 5, 100*time.Millisecond)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation stops further attempts")
}

func TestWithBackoffUnclassifiedErrorsFailFast(t *testing.T) {
	// Errors outside the transient classes are treated as permanent.
	calls := 0
	err := WithBackoff(context.Background(), func() error {
		calls++
		return errors.New("unclassified")
	}, 3, time.Millisecond)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
