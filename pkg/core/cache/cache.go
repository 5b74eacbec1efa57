package cache

import (
	"sync"
	"time"
)

// ResultCache 节点结果缓存接口（对外导出）
// 以Run为单位缓存节点执行产出的数据，供下游节点通过参数注入读取
type ResultCache interface {
	// Set 写入某Run中单个节点的结果数据
	// runID: Run ID
	// nodeID: 节点ID
	// result: 结果数据
	// ttl: 缓存有效期
	Set(runID, nodeID string, result map[string]interface{}, ttl time.Duration) error

	// Get 读取某Run中单个节点的结果数据
	// 返回: 结果数据和是否存在
	Get(runID, nodeID string) (map[string]interface{}, bool)

	// DeleteRun 删除某Run的全部缓存数据
	DeleteRun(runID string) error

	// Clear 清空所有缓存
	Clear() error

	// Close 停止后台清理协程
	Close()
}

// cacheEntry 缓存条目（内部使用）
type cacheEntry struct {
	value      map[string]interface{}
	expireTime time.Time
}

// MemoryResultCache 内存结果缓存实现（对外导出）
type MemoryResultCache struct {
	mu      sync.RWMutex
	runs    map[string]map[string]*cacheEntry // runID -> nodeID -> 条目
	stopCh  chan struct{}
	stopOne sync.Once
}

// NewMemoryResultCache 创建内存结果缓存实例（对外导出）
func NewMemoryResultCache() *MemoryResultCache {
	c := &MemoryResultCache{
		runs:   make(map[string]map[string]*cacheEntry),
		stopCh: make(chan struct{}),
	}
	// 启动清理协程，定期清理过期缓存
	go c.cleanupExpired()
	return c
}

// Set 写入某Run中单个节点的结果数据
func (c *MemoryResultCache) Set(runID, nodeID string, result map[string]interface{}, ttl time.Duration) error {
	if runID == "" || nodeID == "" {
		return nil // 空key，忽略
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nodes, exists := c.runs[runID]
	if !exists {
		nodes = make(map[string]*cacheEntry)
		c.runs[runID] = nodes
	}
	nodes[nodeID] = &cacheEntry{
		value:      result,
		expireTime: time.Now().Add(ttl),
	}

	return nil
}

// Get 读取某Run中单个节点的结果数据
func (c *MemoryResultCache) Get(runID, nodeID string) (map[string]interface{}, bool) {
	if runID == "" || nodeID == "" {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	nodes, exists := c.runs[runID]
	if !exists {
		return nil, false
	}

	entry, exists := nodes[nodeID]
	if !exists {
		return nil, false
	}

	// 已过期的条目视为不存在，由清理协程统一删除
	if time.Now().After(entry.expireTime) {
		return nil, false
	}

	return entry.value, true
}

// DeleteRun 删除某Run的全部缓存数据
func (c *MemoryResultCache) DeleteRun(runID string) error {
	if runID == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runs, runID)
	return nil
}

// Clear 清空所有缓存
func (c *MemoryResultCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs = make(map[string]map[string]*cacheEntry)
	return nil
}

// Close 停止后台清理协程
func (c *MemoryResultCache) Close() {
	c.stopOne.Do(func() {
		close(c.stopCh)
	})
}

// cleanupExpired 清理过期缓存（内部方法）
func (c *MemoryResultCache) cleanupExpired() {
	ticker := time.NewTicker(1 * time.Minute) // 每分钟清理一次
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for runID, nodes := range c.runs {
				for nodeID, entry := range nodes {
					if now.After(entry.expireTime) {
						delete(nodes, nodeID)
					}
				}
				if len(nodes) == 0 {
					delete(c.runs, runID)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
