// MIT License
//
// Copyright (c) 2023-2026 Arvo Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command server runs one cluster node. Store backends are chosen by the
// scheme of their connection strings; with no stores configured the node
// runs on in-memory stores, which only makes sense for a single node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/examples/counter"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/node"
	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
	"github.com/arvo-run/arvo/storage/bolt"
	"github.com/arvo-run/arvo/storage/etcd"
	"github.com/arvo-run/arvo/storage/postgres"
	"github.com/arvo-run/arvo/storage/redis"
)

func main() {
	var (
		name        = flag.String("name", "node", "node name used in logs and metrics")
		listen      = flag.String("listen", "127.0.0.1:7070", "listen address")
		membersURL  = flag.String("membership", "", "membership store (etcd://host:port,host:port)")
		placeURL    = flag.String("placement", "", "placement store (etcd://... | postgres://... | bolt://path)")
		stateURL    = flag.String("state", "", "state store (redis://host:port | postgres://... | bolt://path)")
		metricsAddr = flag.String("metrics", "", "metrics listen address (empty disables)")
		logLevel    = flag.String("log-level", "info", "log level: debug|info|warn|error")
	)
	flag.Parse()

	logger := log.NewZap(parseLevel(*logLevel), os.Stderr)

	cfg, err := config.New(*name, *listen, config.WithLogger(logger))
	if err != nil {
		fail(err)
	}

	registry := object.NewRegistry()
	counter.Register(registry)

	opts, err := storeOptions(*membersURL, *placeURL, *stateURL)
	if err != nil {
		fail(err)
	}
	if *metricsAddr != "" {
		opts = append(opts, node.WithMetricsListenAddress(*metricsAddr))
	}

	n := node.New(cfg, registry, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		fail(err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.Stop(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func storeOptions(membersURL, placeURL, stateURL string) ([]node.Option, error) {
	var opts []node.Option

	if membersURL != "" {
		scheme, rest, err := splitURL(membersURL)
		if err != nil {
			return nil, err
		}
		if scheme != "etcd" {
			return nil, fmt.Errorf("membership store scheme %q not supported", scheme)
		}
		cli, err := etcd.Connect(strings.Split(rest, ","))
		if err != nil {
			return nil, err
		}
		opts = append(opts, node.WithMembershipStorage(etcd.NewMembershipStore(cli)))
	}

	if placeURL != "" {
		store, err := placementStore(placeURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, node.WithPlacementStorage(store))
	}

	if stateURL != "" {
		store, err := stateStore(stateURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, node.WithStateStorage(store))
	}
	return opts, nil
}

func placementStore(url string) (placement.Storage, error) {
	scheme, rest, err := splitURL(url)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "etcd":
		cli, err := etcd.Connect(strings.Split(rest, ","))
		if err != nil {
			return nil, err
		}
		return etcd.NewPlacementStore(cli), nil
	case "postgres":
		db, err := postgres.Connect(context.Background(), url)
		if err != nil {
			return nil, err
		}
		return postgres.NewPlacementStore(db), nil
	case "bolt":
		return bolt.Open(rest)
	default:
		return nil, fmt.Errorf("placement store scheme %q not supported", scheme)
	}
}

func stateStore(url string) (object.StateStorage, error) {
	scheme, rest, err := splitURL(url)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "redis":
		return redis.NewStateStore(redis.Connect(rest)), nil
	case "postgres":
		db, err := postgres.Connect(context.Background(), url)
		if err != nil {
			return nil, err
		}
		return postgres.NewStateStore(db), nil
	case "bolt":
		return bolt.Open(rest)
	default:
		return nil, fmt.Errorf("state store scheme %q not supported", scheme)
	}
}

func splitURL(url string) (scheme, rest string, err error) {
	parts := strings.SplitN(url, "://", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed store url %q", url)
	}
	return parts[0], parts[1], nil
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
