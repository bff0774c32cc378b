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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Locker is a single Redis key guarded by SET NX and released only by its holder.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

// DocumentLocker hands out per-document locks so a document is sent to the provider by one
// worker at a time.
type DocumentLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	token  func() string
}

func NewDocumentLocker(client redis.UniversalClient, ttl time.Duration) *DocumentLocker {
	return &DocumentLocker{client: client, ttl: ttl, token: uuid.NewString}
}

func documentKey(documentID string) string {
	return "docflow:lock:document:" + documentID
}

// Acquire takes the lock for documentID and returns the function that releases it.
// It fails with ErrLockHeld when the document is already locked.
func (d *DocumentLocker) Acquire(ctx context.Context, documentID string) (func(context.Context) error, error) {
	l := NewLocker(d.client, documentKey(documentID), d.token())
	if err := l.Lock(ctx, d.ttl); err != nil {
		return nil, err
	}
	return l.Unlock, nil
}
