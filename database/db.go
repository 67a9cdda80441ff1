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

package database

import (
	"database/sql"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // postgres driver
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/payrelay/config"
	"github.com/blnkfinance/payrelay/internal/cache"
)

var instance *Datasource
var once sync.Once

// pingBackOff bounds how long ConnectDB waits for the database at startup.
var pingBackOff = func() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
}

// Datasource is the Postgres-backed transaction store and webhook audit log.
type Datasource struct {
	Conn *sql.DB
	// Cache holds the token to transaction id mapping. It may be nil.
	Cache    cache.Cache
	TokenTTL time.Duration
}

func NewDataSource(configuration *config.Configuration, c cache.Cache) (IDataSource, error) {
	con, err := GetDBConnection(configuration, c)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection returns the process-wide connection pool, opening it on first use.
func GetDBConnection(configuration *config.Configuration, c cache.Cache) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: c, TokenTTL: configuration.Webhook.TokenCacheTTL()}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a pooled connection and waits for the database to answer.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	err = backoff.RetryNotify(db.Ping, pingBackOff(), func(err error, next time.Duration) {
		logrus.WithError(err).WithField("retry_in", next).Warn("database not ready")
	})
	if err != nil {
		logrus.WithError(err).Error("database connection error")
		_ = db.Close()
		return nil, err
	}

	logrus.Info("database connection established")
	return db, nil
}
