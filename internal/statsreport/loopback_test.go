package statsreport_test

import (
	"context"
	"testing"
	"time"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/statsreport"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

func TestLoopbackPairReportsCandidatePairs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pair, err := statsreport.NewLoopbackPair(ctx)
	if err != nil {
		t.Fatalf("NewLoopbackPair: %v", err)
	}
	src := statsreport.NewPeerConnectionSource(pair)
	defer src.Close()

	deadline := time.Now().Add(8 * time.Second)
	for {
		var pairs int
		err := src.PollStats(ctx, func(r *types.Report) {
			pairs = len(split(r).pairs)
		})
		if err != nil {
			t.Fatalf("PollStats: %v", err)
		}
		if pairs > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("loopback pair never reported a candidate pair")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestLoopbackPairCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := statsreport.NewLoopbackPair(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
