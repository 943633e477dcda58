package statsreport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// PeerConnection is the part of *webrtc.PeerConnection the source needs.
type PeerConnection interface {
	GetStats() webrtc.StatsReport
	Close() error
}

// PeerConnectionSource reads live stats from a pion peer connection. The
// source owns the connection and closes it on Close.
type PeerConnectionSource struct {
	pc        PeerConnection
	closeOnce sync.Once
	closeErr  error
}

func NewPeerConnectionSource(pc PeerConnection) *PeerConnectionSource {
	return &PeerConnectionSource{pc: pc}
}

func (s *PeerConnectionSource) PollStats(ctx context.Context, deliver func(*types.Report)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s.pc.GetStats())
	if err != nil {
		return fmt.Errorf("encode peer connection stats: %w", err)
	}
	report, err := Parse(data)
	if err != nil {
		return err
	}
	deliver(report)
	return nil
}

func (s *PeerConnectionSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pc.Close()
	})
	return s.closeErr
}
