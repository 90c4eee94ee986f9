package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// LastSeq persists the relay subscription cursor across restarts.
type LastSeq struct {
	ID  uint `gorm:"primarykey"`
	Seq int64
}

// Consumer subscribes to the relay websocket and feeds decoded events
// through the router. Reconnects forever (rate limited); the cursor is
// persisted periodically, so a crash replays a short tail of the stream,
// which the idempotent actor mutations absorb.
type Consumer struct {
	host    string
	router  *Router
	db      *gorm.DB
	logger  *slog.Logger
	limiter *rate.Limiter
	seen    *lru.Cache[int64, struct{}]
	lastSeq int64
}

func NewConsumer(host string, router *Router, db *gorm.DB, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&LastSeq{}); err != nil {
		return nil, fmt.Errorf("migrating cursor table: %w", err)
	}
	seen, err := lru.New[int64, struct{}](20_000)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		host:    host,
		router:  router,
		db:      db,
		logger:  logger.With("system", "firehose"),
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		seen:    seen,
	}, nil
}

func (c *Consumer) getLastCursor() (int64, error) {
	var lastSeq LastSeq
	if err := c.db.Find(&lastSeq).Error; err != nil {
		return 0, err
	}
	if lastSeq.ID == 0 {
		return 0, c.db.Create(&lastSeq).Error
	}
	return lastSeq.Seq, nil
}

func (c *Consumer) updateLastCursor(curs int64) error {
	return c.db.Model(LastSeq{}).Where("id = 1").Update("seq", curs).Error
}

// Run consumes the relay until ctx is canceled. Connection errors trigger
// a rate-limited reconnect from the last persisted cursor.
func (c *Consumer) Run(ctx context.Context) error {
	cur, err := c.getLastCursor()
	if err != nil {
		return fmt.Errorf("get last cursor: %w", err)
	}
	c.lastSeq = cur

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("relay connection lost, reconnecting", "err", err)
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	u, err := url.Parse(c.host)
	if err != nil {
		return fmt.Errorf("invalid relay host URI: %w", err)
	}
	u.Path = "subscribe"
	if c.lastSeq != 0 {
		u.RawQuery = fmt.Sprintf("cursor=%d", c.lastSeq)
	}

	con, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{
		"User-Agent": []string{fmt.Sprintf("atrarium/%s", versioninfo.Short())},
	})
	if err != nil {
		return fmt.Errorf("relay dial failed: %w", err)
	}
	defer con.Close()
	c.logger.Info("subscribed to relay", "host", c.host, "cursor", c.lastSeq)

	// the watcher must exit with this connection, not linger until ctx
	// is canceled, or every reconnect would strand one goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			con.Close()
		case <-done:
		}
	}()

	for {
		var evt RelayEvent
		if err := con.ReadJSON(&evt); err != nil {
			return err
		}
		c.handleEvent(ctx, &evt)
	}
}

func (c *Consumer) handleEvent(ctx context.Context, evt *RelayEvent) {
	if evt.Seq != 0 {
		// cheap skip of exact redelivery after a reconnect; anything
		// the cache misses is still safe, just redundant work
		if _, dup := c.seen.Get(evt.Seq); dup {
			return
		}
		c.seen.Add(evt.Seq, struct{}{})
	}

	res := c.router.ProcessBatch(ctx, []RelayEvent{*evt})
	if res.Transient > 0 {
		c.logger.Warn("transient failure processing relay event", "seq", evt.Seq, "did", evt.DID)
	}

	if evt.Seq > c.lastSeq {
		c.lastSeq = evt.Seq
		currentSeq.Set(float64(evt.Seq))
		if evt.Seq%50 == 0 {
			if err := c.updateLastCursor(evt.Seq); err != nil {
				c.logger.Error("failed to persist cursor", "err", err)
			}
		}
	}
}

// Flush persists the in-memory cursor, for shutdown.
func (c *Consumer) Flush() error {
	if c.lastSeq <= 0 {
		return nil
	}
	return c.updateLastCursor(c.lastSeq)
}
