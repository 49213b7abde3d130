package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports reachability of the backing stores.
type HealthHandler struct {
	rdb  *redis.Client
	conn *amqp.Connection
}

func NewHealthHandler(rdb *redis.Client, conn *amqp.Connection) *HealthHandler {
	return &HealthHandler{rdb: rdb, conn: conn}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	redisOK := h.rdb.Ping(ctx).Err() == nil
	queueOK := !h.conn.IsClosed()

	status := http.StatusOK
	if !redisOK || !queueOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"redis": redisOK, "queue": queueOK})
}
