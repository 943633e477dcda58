package statsreport

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

const loopbackChannel = "pubstats"

// LoopbackPair is two in-process peer connections joined over host
// candidates. The offering side plays the publisher and is the one whose
// stats are read.
type LoopbackPair struct {
	publisher *webrtc.PeerConnection
	viewer    *webrtc.PeerConnection
}

// NewLoopbackPair negotiates the pair and returns once both sides have
// applied each other's descriptions. ICE keeps connecting in the
// background.
func NewLoopbackPair(ctx context.Context) (*LoopbackPair, error) {
	pub, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create publisher peer connection: %w", err)
	}
	view, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create viewer peer connection: %w", err)
	}
	p := &LoopbackPair{publisher: pub, viewer: view}
	if err := p.negotiate(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *LoopbackPair) negotiate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.publisher.CreateDataChannel(loopbackChannel, nil); err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}

	offer, err := p.publisher.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := setLocalAndGather(ctx, p.publisher, offer); err != nil {
		return err
	}
	if err := p.viewer.SetRemoteDescription(*p.publisher.LocalDescription()); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}

	answer, err := p.viewer.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := setLocalAndGather(ctx, p.viewer, answer); err != nil {
		return err
	}
	if err := p.publisher.SetRemoteDescription(*p.viewer.LocalDescription()); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

// setLocalAndGather applies desc and waits for candidate gathering so the
// description carries every candidate.
func setLocalAndGather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local %s: %w", desc.Type, err)
	}
	select {
	case <-gathered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats reports the publisher side.
func (p *LoopbackPair) GetStats() webrtc.StatsReport {
	return p.publisher.GetStats()
}

func (p *LoopbackPair) Close() error {
	return errors.Join(p.publisher.Close(), p.viewer.Close())
}
