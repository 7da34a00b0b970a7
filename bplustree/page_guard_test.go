package bplustree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPageGuardDropUnpins 守卫释放后页面可被淘汰
func TestPageGuardDropUnpins(t *testing.T) {
	bpm, _ := newTestPool(t, 3)

	basic, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	pid := basic.PageID()

	wg := basic.UpgradeWrite()
	copy(wg.Data(), []byte("guarded"))
	assert.Equal(t, pid, wg.PageID())
	wg.Drop()

	// 写守卫按脏页释放，重新读入内容完好
	rg, err := bpm.FetchPageRead(pid)
	require.NoError(t, err)
	assert.Equal(t, []byte("guarded"), rg.Data()[:7])
	rg.Drop()

	// 此时页面未被任何人固定，删除应成功
	assert.True(t, bpm.DeletePage(pid))
}

// TestPageGuardDoubleDrop 重复释放为空操作
func TestPageGuardDoubleDrop(t *testing.T) {
	bpm, _ := newTestPool(t, 3)

	rg, err := func() (ReadPageGuard, error) {
		basic, err := bpm.NewPageGuarded()
		if err != nil {
			return ReadPageGuard{}, err
		}
		return basic.UpgradeRead(), nil
	}()
	require.NoError(t, err)

	pid := rg.PageID()
	rg.Drop()
	rg.Drop()
	assert.False(t, rg.Valid())

	page, err := bpm.FetchPage(pid)
	require.NoError(t, err)
	assert.Equal(t, 1, page.PinCount())
	bpm.UnpinPage(pid, false)
}

// TestPageGuardUseAfterDrop 释放后访问属于契约违规
func TestPageGuardUseAfterDrop(t *testing.T) {
	bpm, _ := newTestPool(t, 3)

	basic, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	wg := basic.UpgradeWrite()
	wg.Drop()

	assert.Panics(t, func() { wg.Data() })
	assert.Panics(t, func() { wg.PageID() })
	assert.Panics(t, func() { basic.Data() })
}

// TestPageGuardConcurrentReaders 读守卫之间互不排斥
func TestPageGuardConcurrentReaders(t *testing.T) {
	bpm, _ := newTestPool(t, 3)

	basic, err := bpm.NewPageGuarded()
	require.NoError(t, err)
	pid := basic.PageID()
	basic.Drop()

	g1, err := bpm.FetchPageRead(pid)
	require.NoError(t, err)
	g2, err := bpm.FetchPageRead(pid)
	require.NoError(t, err)

	assert.Equal(t, g1.PageID(), g2.PageID())
	g1.Drop()
	g2.Drop()
}
