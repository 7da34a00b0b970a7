package bplustree

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBTreeConcurrentInserts 多协程并发插入不相交的键区间
func TestBTreeConcurrentInserts(t *testing.T) {
	tree := newTestTree(t, func(opt *Options) {
		opt.PoolSize = 128
	})

	const workers = 8
	const perWorker = 250

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for i := int64(0); i < perWorker; i++ {
				key := base*perWorker + i
				ok, err := tree.Insert(key, ridFor(key))
				assert.NoError(t, err)
				assert.True(t, ok)
			}
		}(int64(w))
	}
	wg.Wait()

	require.NoError(t, tree.CheckIntegrity())
	for key := int64(0); key < workers*perWorker; key++ {
		rid, found, err := tree.GetValue(key)
		require.NoError(t, err)
		require.True(t, found, "key %d", key)
		assert.Equal(t, ridFor(key), rid)
	}
}

// TestBTreeConcurrentMixed 并发读写混合负载
func TestBTreeConcurrentMixed(t *testing.T) {
	tree := newTestTree(t, func(opt *Options) {
		opt.PoolSize = 128
	})

	// 预置偶数键
	const n = 1000
	for key := int64(0); key < n; key += 2 {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup

	// 写者插入奇数键
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(start int64) {
			defer wg.Done()
			for key := start; key < n; key += 8 {
				_, err := tree.Insert(key, ridFor(key))
				assert.NoError(t, err)
			}
		}(int64(w)*2 + 1)
	}

	// 读者反复点查偶数键
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 3; round++ {
				for key := int64(0); key < n; key += 2 {
					rid, found, err := tree.GetValue(key)
					assert.NoError(t, err)
					if assert.True(t, found, "key %d", key) {
						assert.Equal(t, ridFor(key), rid)
					}
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, tree.CheckIntegrity())
	for key := int64(0); key < n; key++ {
		_, found, err := tree.GetValue(key)
		require.NoError(t, err)
		require.True(t, found, "key %d", key)
	}
}

// TestBTreeConcurrentRemoves 并发删除互不相交的键区间
func TestBTreeConcurrentRemoves(t *testing.T) {
	tree := newTestTree(t, func(opt *Options) {
		opt.PoolSize = 128
	})

	const workers = 4
	const perWorker = 200
	const total = workers * perWorker

	for key := int64(0); key < total; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			// 只删掉本区间的偶数键
			for i := int64(0); i < perWorker; i += 2 {
				assert.NoError(t, tree.Remove(base*perWorker+i))
			}
		}(int64(w))
	}
	wg.Wait()

	require.NoError(t, tree.CheckIntegrity())
	for key := int64(0); key < total; key++ {
		_, found, err := tree.GetValue(key)
		require.NoError(t, err)
		if key%2 == 0 {
			assert.False(t, found, "key %d", key)
		} else {
			assert.True(t, found, "key %d", key)
		}
	}
}

// TestBTreeConcurrentScanWithWrites 扫描与写入并发进行
func TestBTreeConcurrentScanWithWrites(t *testing.T) {
	tree := newTestTree(t, func(opt *Options) {
		opt.PoolSize = 128
	})

	// 稳定区：扫描期间不被改动的键
	const stable = 500
	for key := int64(0); key < stable; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// 写者在稳定区之外制造分裂
	wg.Add(1)
	go func() {
		defer wg.Done()
		for key := int64(stable + 10000); key < stable+11000; key++ {
			if _, err := tree.Insert(key, ridFor(key)); err != nil {
				break
			}
		}
		close(stop)
	}()

	// 扫描者反复遍历，键序必须始终单调
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			it, err := tree.Begin()
			if err != nil {
				return
			}
			prev := int64(-1)
			for !it.IsEnd() {
				k := it.Key()
				assert.Greater(t, k, prev)
				prev = k
				if err := it.Next(); err != nil {
					break
				}
			}
		}
	}()
	wg.Wait()

	require.NoError(t, tree.CheckIntegrity())
}
