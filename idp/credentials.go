/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package idp

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultExpiryMargin is how long before expiry a credential stops being handed out.
const DefaultExpiryMargin = 30 * time.Second

const refreshKey = "credential"

// TokenFetcher obtains a fresh credential from the provider's auth endpoint.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (*model.Credential, error)
}

// TokenFetcherFunc adapts a plain function to TokenFetcher.
type TokenFetcherFunc func(ctx context.Context) (*model.Credential, error)

func (f TokenFetcherFunc) FetchToken(ctx context.Context) (*model.Credential, error) {
	return f(ctx)
}

// CredentialCache hands out a valid provider credential, refreshing it at most once
// at a time no matter how many callers find it stale.
type CredentialCache struct {
	fetcher TokenFetcher
	margin  time.Duration
	now     func() time.Time
	current atomic.Pointer[model.Credential]
	group   singleflight.Group
}

type CredentialCacheOption func(*CredentialCache)

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(margin time.Duration) CredentialCacheOption {
	return func(c *CredentialCache) {
		c.margin = margin
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CredentialCacheOption {
	return func(c *CredentialCache) {
		c.now = now
	}
}

func NewCredentialCache(fetcher TokenFetcher, opts ...CredentialCacheOption) *CredentialCache {
	c := &CredentialCache{
		fetcher: fetcher,
		margin:  DefaultExpiryMargin,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credential returns the cached credential while it is valid. Otherwise a single refresh is
// started and shared by every concurrent caller. A failed refresh leaves the cache empty, so
// the next call tries again. The refresh keeps running if ctx is cancelled; only the waiting
// caller gives up.
func (c *CredentialCache) Credential(ctx context.Context) (*model.Credential, error) {
	if cred := c.current.Load(); cred.Valid(c.now(), c.margin) {
		return cred, nil
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		if cred := c.current.Load(); cred.Valid(c.now(), c.margin) {
			return cred, nil
		}

		cred, err := c.fetcher.FetchToken(context.WithoutCancel(ctx))
		if err != nil {
			c.current.Store(nil)
			logrus.WithError(err).Error("failed to refresh provider credential")
			return nil, newProviderError(ErrAuthentication, "", err)
		}
		if cred == nil || cred.Token == "" {
			c.current.Store(nil)
			return nil, newProviderError(ErrAuthentication, "empty access token", nil)
		}

		c.current.Store(cred)
		logrus.WithField("expires_at", cred.ExpiresAt).Debug("provider credential refreshed")
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Credential), nil
	}
}

// Invalidate drops the cached credential, e.g. after the provider rejected it.
func (c *CredentialCache) Invalidate() {
	c.current.Store(nil)
}
