package main

import (
	"OptionSettle/internal/config"
	"OptionSettle/internal/core"
	"OptionSettle/internal/event"
	"OptionSettle/internal/observability"
	"OptionSettle/internal/pool"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestFanOut_DropsPublishWhenFull(t *testing.T) {
	in := make(chan core.CoreOutput, 3)
	persist := make(chan core.CoreOutput, 3)
	publish := make(chan core.CoreOutput, 1)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith(reg)

	for seq := int64(1); seq <= 3; seq++ {
		in <- core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: seq}}
	}
	close(in)
	fanOut(in, persist, publish, metrics)

	var got []int64
	for out := range persist {
		got = append(got, out.Envelope.Sequence)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("persisted = %v", got)
	}
	n := 0
	for range publish {
		n++
	}
	if n != 1 {
		t.Errorf("published = %d, want 1", n)
	}
	if drops := counterValue(t, reg, "optsettle_publish_drops_total"); drops != 2 {
		t.Errorf("publish drops = %v", drops)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestBootstrapCommands(t *testing.T) {
	cfg := config.Defaults()
	cfg.Assets = []config.AssetConfig{
		{Symbol: "WETH", Address: "0x00000000000000000000000000000000000000e1", Decimals: 18},
		{Symbol: "USDC", Address: "0x00000000000000000000000000000000000000c6", Decimals: 6},
	}
	exp := time.Date(2027, 1, 1, 8, 0, 0, 0, time.UTC)
	cfg.Series = []config.SeriesConfig{{
		Collateral:    "WETH",
		Consideration: "USDC",
		Strike:        "2000",
		Expiration:    exp,
		Admin:         "0x00000000000000000000000000000000000000ad",
	}}
	now := time.Unix(1_800_000_000, 0)

	cmds := bootstrapCommands(&cfg, now)
	if len(cmds) != 1 {
		t.Fatalf("commands = %d", len(cmds))
	}
	c := cmds[0]
	id := pool.DeriveSeriesID(c.Collateral, c.Consideration, c.Strike, exp, false)
	if c.Key != "bootstrap:"+id.Hex() {
		t.Errorf("key = %s", c.Key)
	}
	if c.Expiration != exp.Unix() || c.TimestampUs != now.UnixMicro() {
		t.Errorf("times = %d %d", c.Expiration, c.TimestampUs)
	}
	if !strings.EqualFold(c.Sender.Hex(), cfg.Series[0].Admin) {
		t.Errorf("sender = %s", c.Sender.Hex())
	}

	again := bootstrapCommands(&cfg, now.Add(time.Hour))
	if again[0].Key != c.Key {
		t.Error("bootstrap key must not depend on the clock")
	}
}
