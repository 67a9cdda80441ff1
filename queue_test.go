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

package payrelay

import (
	"testing"

	"github.com/blnkfinance/payrelay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClientOpt(t *testing.T) {
	opt, err := RedisClientOpt(&config.Configuration{
		Redis: config.RedisConfig{Dns: "redis://:secret@localhost:6380/2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
	assert.Nil(t, opt.TLSConfig)
}

func TestRedisClientOpt_TLS(t *testing.T) {
	opt, err := RedisClientOpt(&config.Configuration{
		Redis: config.RedisConfig{Dns: "rediss://cache.internal:6379", SkipTLSVerify: true},
	})
	require.NoError(t, err)
	require.NotNil(t, opt.TLSConfig)
	assert.True(t, opt.TLSConfig.InsecureSkipVerify)
}

func TestNewQueue_InvalidAddress(t *testing.T) {
	q, err := NewQueue(&config.Configuration{Redis: config.RedisConfig{Dns: ""}})
	assert.Error(t, err)
	assert.Nil(t, q)
}

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(&config.Configuration{Redis: config.RedisConfig{Dns: "localhost:6379"}})
	require.NoError(t, err)
	assert.NotNil(t, q.Client)
	assert.NotNil(t, q.Inspector)
	assert.NoError(t, q.Close())
}
