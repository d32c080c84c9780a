package database

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// InitRedis opens the client backing the auth token caches: the
// blacklist:<token> revocation marks written on logout and the
// auth_session:<jti> resolution cache consulted on every authenticated
// request. Both are rebuildable from Postgres, so when Redis is down the
// server degrades to the auth_sessions table on every request instead of
// refusing to start.
func InitRedis() *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		PoolSize: viper.GetInt("redis.pool_size"),
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed, token caches disabled: %v", err)
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}
