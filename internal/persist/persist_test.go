package persist

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"limit-engine-go/order"
)

func sampleLimit() *order.Order {
	return &order.Order{
		ID:          "o-1",
		TraderID:    "hk-abc",
		Instrument:  "BTCUSD",
		Direction:   order.Long,
		Kind:        order.KindLimit,
		Leverage:    order.F(0.5),
		LimitPrice:  50000,
		StopLoss:    order.F(48000),
		Status:      order.StatusLimitUnfilled,
		SubmittedMs: 1700000000000,
		ProcessedMs: 1700000000100,
	}
}

func TestWriteLoadRoundtrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := sampleLimit()
	if err := fs.Write(o); err != nil {
		t.Fatal(err)
	}

	loaded, err := fs.LoadAll(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d orders, want 1", len(loaded))
	}
	if !reflect.DeepEqual(o, loaded[0]) {
		t.Fatalf("roundtrip mismatch:\n  wrote  %+v\n  loaded %+v", o, loaded[0])
	}
}

func TestTerminalWriteMovesBucket(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := sampleLimit()
	if err := fs.Write(o); err != nil {
		t.Fatal(err)
	}
	o.Status = order.StatusLimitFilled
	o.FillPrice = 50000
	if err := fs.Write(o); err != nil {
		t.Fatal(err)
	}

	unfilled := filepath.Join(fs.Root(), o.TraderID, o.Instrument, "unfilled", o.ID+".json")
	if _, err := os.Stat(unfilled); !os.IsNotExist(err) {
		t.Fatalf("unfilled file should be gone after terminal write, stat err = %v", err)
	}
	closed := filepath.Join(fs.Root(), o.TraderID, o.Instrument, "closed", o.ID+".json")
	if _, err := os.Stat(closed); err != nil {
		t.Fatalf("closed file missing: %v", err)
	}
	loaded, err := fs.LoadAll(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("terminal orders must not be recovered, got %d", len(loaded))
	}
}

func TestDeleteIdempotent(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := sampleLimit()
	if err := fs.Write(o); err != nil {
		t.Fatal(err)
	}
	if err := fs.Delete(o); err != nil {
		t.Fatal(err)
	}
	if err := fs.Delete(o); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestLoadAllSkipsTrader(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := sampleLimit()
	b := sampleLimit()
	b.ID = "o-2"
	b.TraderID = "hk-gone"
	for _, o := range []*order.Order{a, b} {
		if err := fs.Write(o); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := fs.LoadAll(func(trader string) bool { return trader == "hk-gone" })
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].TraderID != "hk-abc" {
		t.Fatalf("skip filter not applied, loaded %v", loaded)
	}
	// 跳过的 trader 目录应被清掉
	if _, err := os.Stat(filepath.Join(fs.Root(), "hk-gone")); !os.IsNotExist(err) {
		t.Fatalf("skipped trader dir should be removed, stat err = %v", err)
	}
}

func TestLoadAllSkipsCorruptFile(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := sampleLimit()
	if err := fs.Write(o); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(fs.Root(), o.TraderID, o.Instrument, "unfilled", "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := fs.LoadAll(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("corrupt file must be skipped, loaded %d", len(loaded))
	}
}

func TestPurgeTrader(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := sampleLimit()
	if err := fs.Write(o); err != nil {
		t.Fatal(err)
	}
	if err := fs.PurgeTrader(o.TraderID); err != nil {
		t.Fatal(err)
	}
	loaded, err := fs.LoadAll(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("purge left %d orders on disk", len(loaded))
	}
}
