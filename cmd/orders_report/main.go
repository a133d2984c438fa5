package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"limit-engine-go/order"
)

type stats struct {
	total      int
	filled     int
	cancelled  int
	fillVolume float64
}

func (s *stats) add(o *order.Order) {
	s.total++
	switch {
	case o.Status.Filled():
		s.filled++
		if o.Quantity != nil {
			s.fillVolume += o.FillPrice * *o.Quantity
		}
	case o.Status.Cancelled():
		s.cancelled++
	}
}

func main() {
	dataDir := flag.String("data", "/var/lib/limit-engine/orders", "订单落盘目录")
	trader := flag.String("trader", "", "仅统计指定 trader (默认全量)")
	instrument := flag.String("instrument", "", "仅统计指定标的 (默认全量)")
	sinceStr := flag.String("since", "", "仅统计此时间之后受理的订单 (RFC3339，例如 2026-08-01T00:00:00Z)")
	flag.Parse()

	var sinceMs int64
	if *sinceStr != "" {
		since, err := time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
		sinceMs = since.UnixMilli()
	}

	pending := stats{}
	closed := stats{}
	byInstrument := make(map[string]int)

	err := filepath.WalkDir(*dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var o order.Order
		if err := json.Unmarshal(data, &o); err != nil {
			// 损坏文件不中断统计
			fmt.Fprintf(os.Stderr, "跳过损坏文件 %s: %v\n", path, err)
			return nil
		}
		if *trader != "" && o.TraderID != *trader {
			return nil
		}
		if *instrument != "" && o.Instrument != *instrument {
			return nil
		}
		if sinceMs > 0 && o.SubmittedMs < sinceMs {
			return nil
		}
		byInstrument[o.Instrument]++
		if o.Status.Terminal() {
			closed.add(&o)
		} else {
			pending.add(&o)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取订单目录出错: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("统计目录: %s\n", *dataDir)
	if *trader != "" {
		fmt.Printf("Trader: %s\n", *trader)
	}
	if *instrument != "" {
		fmt.Printf("标的: %s\n", *instrument)
	}
	if sinceMs > 0 {
		fmt.Printf("起始时间: %s\n", *sinceStr)
	}
	fmt.Printf("挂单数量: %d\n", pending.total)
	fmt.Printf("终态订单: %d (成交 %d / 取消 %d)\n", closed.total, closed.filled, closed.cancelled)
	fmt.Printf("成交名义 (仅 quantity 订单): %.4f\n", closed.fillVolume)

	instruments := make([]string, 0, len(byInstrument))
	for inst := range byInstrument {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)
	for _, inst := range instruments {
		fmt.Printf("  %-12s %d\n", inst, byInstrument[inst])
	}
}
