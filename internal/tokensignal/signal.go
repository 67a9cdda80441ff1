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

// Package tokensignal tells webhook resolvers that a gateway token has been persisted.
//
// A webhook may reach us before the initiation that produced its token has written the token
// to the transaction. The resolver waits on the token's signal instead of sleeping blindly; the
// orchestrator publishes once the token is stored.
package tokensignal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrTimeout is returned by Wait when no signal arrived in time.
var ErrTimeout = errors.New("token signal wait timed out")

// Signal publishes and awaits "token stored" notifications.
type Signal interface {
	Publish(ctx context.Context, token string) error
	Wait(ctx context.Context, token string, timeout time.Duration) error
}

// RedisSignal uses a short-lived marker key plus pub/sub. The marker covers publishes that
// happen before the waiter has subscribed.
type RedisSignal struct {
	client    redis.UniversalClient
	markerTTL time.Duration
}

func NewRedisSignal(client redis.UniversalClient) *RedisSignal {
	return &RedisSignal{client: client, markerTTL: time.Minute}
}

func channelName(token string) string {
	return fmt.Sprintf("payrelay:signal:token:%s", token)
}

func markerKey(token string) string {
	return fmt.Sprintf("payrelay:signal:stored:%s", token)
}

func (s *RedisSignal) Publish(ctx context.Context, token string) error {
	if err := s.client.Set(ctx, markerKey(token), "1", s.markerTTL).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, channelName(token), "stored").Err()
}

func (s *RedisSignal) Wait(ctx context.Context, token string, timeout time.Duration) error {
	sub := s.client.Subscribe(ctx, channelName(token))
	defer func() {
		if err := sub.Close(); err != nil {
			logrus.Debugf("closing token subscription: %v", err)
		}
	}()

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	n, err := s.client.Exists(ctx, markerKey(token)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sub.Channel():
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
