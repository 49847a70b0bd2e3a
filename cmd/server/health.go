package main

import (
	"context"

	httpapi "vaxledger/internal/http"
	"vaxledger/internal/platform/redis"
	"vaxledger/pkg/platform/audit/store/kafka"
)

func healthChecks(st *stores, redisClient *redis.Client, kafkaStore *kafka.Store) map[string]httpapi.HealthCheck {
	checks := make(map[string]httpapi.HealthCheck)
	if st.db != nil {
		checks["postgres"] = st.db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	if kafkaStore != nil {
		checks["kafka"] = func(ctx context.Context) error { return kafkaStore.Ping(ctx) }
	}
	return checks
}
