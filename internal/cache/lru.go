package cache

import (
	"bulk_orders/internal/metrics"
	"bulk_orders/internal/model"
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -source=lru.go -destination=./mocks/store_mock.go -package=mocks Store

// ErrNotFound - пакета нет в хранилище или истек его срок жизни.
var ErrNotFound = errors.New("batch not found")

// Store хранит пакеты, ожидающие подтверждения и отправки.
// Контекст добавлен для поддержки сквозной трассировки.
type Store interface {
	Set(ctx context.Context, batch *model.Batch) error
	Get(ctx context.Context, id string) (*model.Batch, error)
	Delete(ctx context.Context, id string) error
}

// lruStore - LRU-хранилище пакетов в памяти с ограничением по времени жизни.
type lruStore struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	queue    *list.List
	now      func() time.Time
	tracer   trace.Tracer
}

type cacheItem struct {
	key       string
	batch     *model.Batch
	expiresAt time.Time
}

// NewLRUStore создает хранилище на capacity пакетов. ttl <= 0 - без срока жизни.
func NewLRUStore(capacity int, ttl time.Duration) Store {
	return &lruStore{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		queue:    list.New(),
		now:      time.Now,
		tracer:   otel.Tracer("batch-store"),
	}
}

func (c *lruStore) Set(ctx context.Context, batch *model.Batch) error {
	_, span := c.tracer.Start(ctx, "BatchStore.Set")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return nil
	}

	stored := clone(batch)
	expiresAt := c.expiry()

	if element, exists := c.items[batch.ID]; exists {
		c.queue.MoveToFront(element)
		item := element.Value.(*cacheItem)
		item.batch = stored
		item.expiresAt = expiresAt
		return nil
	}

	if c.queue.Len() >= c.capacity {
		c.removeOldest()
	}

	element := c.queue.PushFront(&cacheItem{key: batch.ID, batch: stored, expiresAt: expiresAt})
	c.items[batch.ID] = element

	metrics.BatchStoreSize.Set(float64(c.queue.Len()))
	return nil
}

func (c *lruStore) Get(ctx context.Context, id string) (*model.Batch, error) {
	_, span := c.tracer.Start(ctx, "BatchStore.Get")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[id]
	if !exists {
		return nil, ErrNotFound
	}

	item := element.Value.(*cacheItem)
	if !item.expiresAt.IsZero() && c.now().After(item.expiresAt) {
		c.remove(element)
		metrics.BatchStoreEvictions.WithLabelValues("expired").Inc()
		return nil, ErrNotFound
	}

	c.queue.MoveToFront(element)
	return clone(item.batch), nil
}

func (c *lruStore) Delete(ctx context.Context, id string) error {
	_, span := c.tracer.Start(ctx, "BatchStore.Delete")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[id]; exists {
		c.remove(element)
	}
	return nil
}

func (c *lruStore) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

// removeOldest удаляет самый старый элемент (мьютекс уже захвачен).
func (c *lruStore) removeOldest() {
	if element := c.queue.Back(); element != nil {
		c.remove(element)
		metrics.BatchStoreEvictions.WithLabelValues("capacity").Inc()
	}
}

func (c *lruStore) remove(element *list.Element) {
	item := c.queue.Remove(element).(*cacheItem)
	delete(c.items, item.key)
	metrics.BatchStoreSize.Set(float64(c.queue.Len()))
}

// clone копирует пакет, чтобы вызывающий код не менял сохраненные строки.
func clone(batch *model.Batch) *model.Batch {
	cp := *batch
	cp.Rows = append([]model.BulkOrderRow(nil), batch.Rows...)
	return &cp
}
