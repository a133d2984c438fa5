// Package persist 将订单落盘，重启后据此恢复挂单。
//
// 磁盘布局: <root>/<trader>/<instrument>/<unfilled|closed>/<orderID>.json
// 内存永远是权威数据，落盘失败只记录不回滚。
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"limit-engine-go/order"
)

const (
	unfilledDir = "unfilled"
	closedDir   = "closed"
)

// FileStore 基于目录树的订单持久化。所有磁盘操作串行化，
// 避免同一订单的写入与删除交错。
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("persist: empty root dir")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (f *FileStore) Root() string { return f.root }

func (f *FileStore) path(o *order.Order, bucket string) string {
	return filepath.Join(f.root, o.TraderID, o.Instrument, bucket, o.ID+".json")
}

// Write 按订单状态写入对应桶。写入终态时顺手删除 unfilled 侧的残留文件，
// 保证一个订单同一时刻只出现在一个桶里。
func (f *FileStore) Write(o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := unfilledDir
	if o.Status.Terminal() {
		bucket = closedDir
	}
	p := f.path(o, bucket)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir %s: %w", filepath.Dir(p), err)
	}
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", o.ID, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", p, err)
	}
	if bucket == closedDir {
		_ = os.Remove(f.path(o, unfilledDir))
	}
	return nil
}

// Delete 从两个桶中移除订单文件。文件不存在视为成功。
func (f *FileStore) Delete(o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for _, bucket := range []string{unfilledDir, closedDir} {
		err := os.Remove(f.path(o, bucket))
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("persist: delete %s: %w", o.ID, err)
		}
	}
	return firstErr
}

// LoadAll 扫描 unfilled 桶，返回可恢复的订单。
// skipTrader 返回 true 的 trader 整体跳过（例如已被淘汰），
// 并把对应文件挪到 closed 桶外直接删除。
// 损坏的单个文件跳过且不中断恢复。
func (f *FileStore) LoadAll(skipTrader func(trader string) bool) ([]*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	traders, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("persist: read root: %w", err)
	}
	var out []*order.Order
	for _, t := range traders {
		if !t.IsDir() {
			continue
		}
		trader := t.Name()
		if skipTrader != nil && skipTrader(trader) {
			_ = os.RemoveAll(filepath.Join(f.root, trader))
			continue
		}
		instruments, err := os.ReadDir(filepath.Join(f.root, trader))
		if err != nil {
			continue
		}
		for _, inst := range instruments {
			if !inst.IsDir() {
				continue
			}
			dir := filepath.Join(f.root, trader, inst.Name(), unfilledDir)
			files, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, file := range files {
				if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
					continue
				}
				data, err := os.ReadFile(filepath.Join(dir, file.Name()))
				if err != nil {
					continue
				}
				var o order.Order
				if err := json.Unmarshal(data, &o); err != nil {
					continue
				}
				if o.ID == "" || !o.Status.Open() {
					continue
				}
				out = append(out, &o)
			}
		}
	}
	return out, nil
}

// PurgeTrader 删除该 trader 的全部订单文件。
func (f *FileStore) PurgeTrader(trader string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if trader == "" {
		return errors.New("persist: empty trader")
	}
	if err := os.RemoveAll(filepath.Join(f.root, trader)); err != nil {
		return fmt.Errorf("persist: purge %s: %w", trader, err)
	}
	return nil
}
