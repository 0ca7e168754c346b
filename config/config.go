// Package config loads cache and store settings from YAML and builds the
// matching tiercache.Options.
//
//	namespace: verdicts
//	capacity: 500
//	default_ttl: 6h
//	durability: flush_on_evict
//	codec: msgpack
//	store:
//	  type: redis
//	  redis:
//	    addr: localhost:6379
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/store"
	bigstore "github.com/unkn0wn-root/tiercache/store/bigcache"
	"github.com/unkn0wn-root/tiercache/store/fsstore"
	"github.com/unkn0wn-root/tiercache/store/memory"
	miniostore "github.com/unkn0wn-root/tiercache/store/minio"
	redisstore "github.com/unkn0wn-root/tiercache/store/redis"
	riststore "github.com/unkn0wn-root/tiercache/store/ristretto"
)

// Store types.
const (
	StoreMemory    = "memory"
	StoreFS        = "fs"
	StoreRedis     = "redis"
	StoreBigCache  = "bigcache"
	StoreRistretto = "ristretto"
	StoreMinio     = "minio"
)

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
)

// Config is one cache. Durations are Go duration strings ("90s", "6h").
type Config struct {
	Namespace      string        `yaml:"namespace"`
	Disabled       bool          `yaml:"disabled"`
	Capacity       int           `yaml:"capacity"`
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	FallbackTTL    time.Duration `yaml:"fallback_ttl"`
	MaxStale       time.Duration `yaml:"max_stale"`
	Durability     string        `yaml:"durability"` // advisory | flush_on_evict
	PersistQueue   int           `yaml:"persist_queue"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	Codec          string        `yaml:"codec"`      // json | msgpack | cbor
	MaxDecode      int           `yaml:"max_decode"` // payload cap in bytes; 0 = none

	Store       StoreConfig       `yaml:"store"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

type StoreConfig struct {
	Type      string          `yaml:"type"`
	FS        FSConfig        `yaml:"fs"`
	Redis     RedisConfig     `yaml:"redis"`
	BigCache  BigCacheConfig  `yaml:"bigcache"`
	Ristretto RistrettoConfig `yaml:"ristretto"`
	Minio     MinioConfig     `yaml:"minio"`
}

type FSConfig struct {
	Root     string `yaml:"root"`
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	IndexKey  string        `yaml:"index_key"`
	Retention time.Duration `yaml:"retention"`
}

type BigCacheConfig struct {
	LifeWindow         time.Duration `yaml:"life_window"`
	CleanWindow        time.Duration `yaml:"clean_window"`
	MaxEntrySize       int           `yaml:"max_entry_size"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb"`
}

type RistrettoConfig struct {
	NumCounters int64         `yaml:"num_counters"`
	MaxCost     int64         `yaml:"max_cost"`
	BufferItems int64         `yaml:"buffer_items"`
	Retention   time.Duration `yaml:"retention"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

type CoordinatorConfig struct {
	Retention time.Duration `yaml:"retention"`
	Interval  time.Duration `yaml:"interval"`
}

// Load reads and validates a YAML file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates YAML. Unknown fields are rejected.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if c.Capacity < 0 || c.PersistQueue < 0 || c.MaxDecode < 0 {
		errs = append(errs, errors.New("capacity, persist_queue and max_decode must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"default_ttl": c.DefaultTTL, "fallback_ttl": c.FallbackTTL,
		"max_stale": c.MaxStale, "persist_timeout": c.PersistTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if _, err := c.durability(); err != nil {
		errs = append(errs, err)
	}
	switch c.Codec {
	case "", CodecJSON, CodecMsgpack, CodecCBOR:
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Codec))
	}
	if err := c.Store.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) durability() (tiercache.Durability, error) {
	switch c.Durability {
	case "", "advisory":
		return tiercache.DurabilityAdvisory, nil
	case "flush_on_evict":
		return tiercache.DurabilityFlushOnEvict, nil
	default:
		return 0, fmt.Errorf("unknown durability %q", c.Durability)
	}
}

func (s *StoreConfig) validate() error {
	switch s.Type {
	case "", StoreMemory, StoreBigCache:
		return nil
	case StoreFS:
		if s.FS.Root == "" {
			return errors.New("store.fs.root is required")
		}
	case StoreRedis:
		if s.Redis.Addr == "" {
			return errors.New("store.redis.addr is required")
		}
	case StoreRistretto:
		r := s.Ristretto
		if r.NumCounters < 0 || r.MaxCost < 0 || r.BufferItems < 0 {
			return errors.New("store.ristretto sizes must not be negative")
		}
	case StoreMinio:
		if s.Minio.Endpoint == "" || s.Minio.Bucket == "" {
			return errors.New("store.minio.endpoint and store.minio.bucket are required")
		}
	default:
		return fmt.Errorf("unknown store type %q", s.Type)
	}
	return nil
}

// OpenStore constructs the configured durable tier. The caller owns it;
// handing it to a cache passes ownership to the cache's Close.
func (s *StoreConfig) OpenStore(ctx context.Context) (store.Store, error) {
	switch s.Type {
	case "", StoreMemory:
		return memory.New(), nil
	case StoreFS:
		return opened(fsstore.New(fsstore.Config{Root: s.FS.Root, Dir: s.FS.Dir, MaxBytes: s.FS.MaxBytes}))
	case StoreRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     s.Redis.Addr,
			Username: s.Redis.Username,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("config: redis ping: %w", err)
		}
		return opened(redisstore.New(redisstore.Config{
			Client:      rdb,
			IndexKey:    s.Redis.IndexKey,
			Retention:   s.Redis.Retention,
			CloseClient: true,
		}))
	case StoreBigCache:
		return opened(bigstore.New(bigstore.Config{
			LifeWindow:         s.BigCache.LifeWindow,
			CleanWindow:        s.BigCache.CleanWindow,
			MaxEntrySize:       s.BigCache.MaxEntrySize,
			HardMaxCacheSizeMB: s.BigCache.HardMaxCacheSizeMB,
		}))
	case StoreRistretto:
		r := s.Ristretto
		return opened(riststore.New(riststore.Config{
			NumCounters: coalesce(r.NumCounters, 1e6),
			MaxCost:     coalesce(r.MaxCost, 64<<20),
			BufferItems: coalesce(r.BufferItems, 64),
			Retention:   r.Retention,
		}))
	case StoreMinio:
		m := s.Minio
		return opened(miniostore.New(miniostore.Config{
			Endpoint:  m.Endpoint,
			Bucket:    m.Bucket,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Prefix:    m.Prefix,
		}))
	default:
		return nil, fmt.Errorf("config: unknown store type %q", s.Type)
	}
}

// Build opens the store and returns cache options for V. Logger, Hooks,
// Clock and GenStore are left for the caller to set.
func Build[V any](ctx context.Context, c *Config) (tiercache.Options[V], error) {
	var opts tiercache.Options[V]
	dur, err := c.durability()
	if err != nil {
		return opts, fmt.Errorf("config: %w", err)
	}
	cd, err := newCodec[V](c.Codec, c.MaxDecode)
	if err != nil {
		return opts, err
	}
	st, err := c.Store.OpenStore(ctx)
	if err != nil {
		return opts, err
	}
	return tiercache.Options[V]{
		Namespace:      c.Namespace,
		Store:          st,
		Codec:          cd,
		Capacity:       c.Capacity,
		DefaultTTL:     c.DefaultTTL,
		FallbackTTL:    c.FallbackTTL,
		MaxStale:       c.MaxStale,
		Durability:     dur,
		PersistQueue:   c.PersistQueue,
		PersistTimeout: c.PersistTimeout,
		Disabled:       c.Disabled,
	}, nil
}

// CoordinatorOptions maps the coordinator section.
func (c *Config) CoordinatorOptions() tiercache.CoordinatorOptions {
	return tiercache.CoordinatorOptions{
		Retention: c.Coordinator.Retention,
		Interval:  c.Coordinator.Interval,
	}
}

func newCodec[V any](name string, maxDecode int) (codec.Codec[V], error) {
	var inner codec.Codec[V]
	switch name {
	case "", CodecJSON:
		inner = codec.JSON[V]{}
	case CodecMsgpack:
		inner = codec.Msgpack[V]{}
	case CodecCBOR:
		c, err := codec.NewCBOR[V](true)
		if err != nil {
			return nil, fmt.Errorf("config: cbor codec: %w", err)
		}
		inner = c
	default:
		return nil, fmt.Errorf("config: unknown codec %q", name)
	}
	if maxDecode > 0 {
		return codec.Limit[V]{Inner: inner, MaxDecode: maxDecode}, nil
	}
	return inner, nil
}

// opened keeps a failed constructor's typed nil out of the interface.
func opened[S store.Store](s S, err error) (store.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
