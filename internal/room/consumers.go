package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

// consumers materializes the inbound flows the relay announces.
type consumers struct {
	room *Room
	log  zerolog.Logger

	mu   sync.Mutex
	byID map[string]media.Consumer
	data map[string]media.DataConsumer
}

func newConsumers(r *Room) *consumers {
	return &consumers{
		room: r,
		log:  logging.Module("consumer"),
		byID: make(map[string]media.Consumer),
		data: make(map[string]media.DataConsumer),
	}
}

func (c *consumers) get(id string) media.Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byID[id]
}

func (c *consumers) take(id string) media.Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	consumer := c.byID[id]
	delete(c.byID, id)
	return consumer
}

func (c *consumers) takeData(id string) media.DataConsumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	dc := c.data[id]
	delete(c.data, id)
	return dc
}

// Len returns the number of live media consumers.
func (c *consumers) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *consumers) newConsumer(ctx context.Context, s signaling.NewConsumer) error {
	if !c.room.cfg.Consume {
		return ErrConsumeDisabled
	}

	log := c.log.With().Str("consumer_id", s.ConsumerID).Str("peer_id", s.PeerID).Logger()

	if !c.room.peers.Has(s.PeerID) {
		log.Warn().Msg("dropping consumer for unknown peer")
		return nil
	}

	transport := c.room.transports.recvTransport()
	if transport == nil {
		return ErrNoRecvTransport
	}

	consumer, err := transport.Consume(ctx, media.ConsumerOptions{
		ID:            s.ConsumerID,
		ProducerID:    s.ProducerID,
		Kind:          s.Kind,
		RtpParameters: s.RtpParameters,
		AppData:       withPeer(s.AppData, s.PeerID),
	})
	if err != nil {
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("Error creating a Consumer: %v", err))
		return err
	}

	params := consumer.RtpParameters()

	var mode string
	if len(params.Encodings) > 0 {
		mode = params.Encodings[0].ScalabilityMode
	}
	layers := media.ParseScalabilityMode(mode)

	var codec string
	if len(params.Codecs) > 0 {
		codec = media.CodecName(params.Codecs[0].MimeType)
	}

	if s.ProducerPaused {
		consumer.Pause()
	}

	peer, ok := c.room.peers.AddConsumer(s.PeerID, PeerConsumer{
		ID:                     consumer.ID(),
		ProducerID:             s.ProducerID,
		Kind:                   consumer.Kind(),
		Type:                   s.Type,
		Codec:                  codec,
		SpatialLayers:          layers.SpatialLayers,
		TemporalLayers:         layers.TemporalLayers,
		PreferredSpatialLayer:  layers.SpatialLayers - 1,
		PreferredTemporalLayer: layers.TemporalLayers - 1,
		CurrentSpatialLayer:    -1,
		CurrentTemporalLayer:   -1,
		Priority:               1,
		RemotelyPaused:         s.ProducerPaused,
		Track:                  consumer.Track(),
	})
	if !ok {
		consumer.Close()
		return nil
	}

	c.mu.Lock()
	c.byID[consumer.ID()] = consumer
	c.mu.Unlock()

	consumer.OnTransportClose(func() {
		c.remove(consumer.ID())
	})

	log.Info().Str("kind", string(consumer.Kind())).Str("codec", codec).Msg("consumer created")
	c.room.observer.OnPeer(peer)

	if consumer.Kind() == media.KindVideo && c.room.cfg.AudioOnly {
		return c.PauseConsumer(ctx, consumer.ID())
	}
	return nil
}

// remove forgets a consumer whose transport went away.
func (c *consumers) remove(id string) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()

	if peer, ok := c.room.peers.RemoveConsumer(id); ok {
		c.room.observer.OnPeer(peer)
	}
}

func (c *consumers) consumerClosed(s signaling.ConsumerClosed) {
	consumer := c.take(s.ConsumerID)
	if consumer == nil {
		return
	}
	consumer.Close()

	if peer, ok := c.room.peers.RemoveConsumer(s.ConsumerID); ok {
		c.room.observer.OnPeer(peer)
	}
}

func (c *consumers) consumerPaused(s signaling.ConsumerPaused) {
	consumer := c.get(s.ConsumerID)
	if consumer == nil {
		return
	}
	consumer.Pause()

	c.update(s.ConsumerID, func(pc *PeerConsumer) {
		pc.RemotelyPaused = true
	})
}

func (c *consumers) consumerResumed(s signaling.ConsumerResumed) {
	consumer := c.get(s.ConsumerID)
	if consumer == nil {
		return
	}

	c.update(s.ConsumerID, func(pc *PeerConsumer) {
		pc.RemotelyPaused = false
		if !pc.LocallyPaused {
			consumer.Resume()
		}
	})
}

func (c *consumers) consumerLayersChanged(s signaling.ConsumerLayersChanged) {
	c.update(s.ConsumerID, func(pc *PeerConsumer) {
		pc.CurrentSpatialLayer, pc.CurrentTemporalLayer = -1, -1
		if s.SpatialLayer != nil {
			pc.CurrentSpatialLayer = *s.SpatialLayer
		}
		if s.TemporalLayer != nil {
			pc.CurrentTemporalLayer = *s.TemporalLayer
		}
	})
}

func (c *consumers) update(id string, fn func(*PeerConsumer)) bool {
	peer, ok := c.room.peers.UpdateConsumer(id, fn)
	if ok {
		c.room.observer.OnPeer(peer)
	}
	return ok
}

// PauseConsumer pauses a consumer on this side and asks the relay to stop
// forwarding it.
func (c *consumers) PauseConsumer(ctx context.Context, id string) error {
	consumer := c.get(id)
	if consumer == nil {
		return ErrUnknownConsumer
	}

	if err := c.room.request(ctx, signaling.MethodPauseConsumer, signaling.ConsumerRequest{ConsumerID: id}, nil); err != nil {
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("Error pausing Consumer: %v", err))
		return NewError("pause consumer", err)
	}

	consumer.Pause()
	c.update(id, func(pc *PeerConsumer) {
		pc.LocallyPaused = true
	})
	return nil
}

// ResumeConsumer undoes PauseConsumer. Playback only restarts once the
// remote side is not paused either.
func (c *consumers) ResumeConsumer(ctx context.Context, id string) error {
	consumer := c.get(id)
	if consumer == nil {
		return ErrUnknownConsumer
	}

	if err := c.room.request(ctx, signaling.MethodResumeConsumer, signaling.ConsumerRequest{ConsumerID: id}, nil); err != nil {
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("Error resuming Consumer: %v", err))
		return NewError("resume consumer", err)
	}

	c.update(id, func(pc *PeerConsumer) {
		pc.LocallyPaused = false
		if !pc.RemotelyPaused {
			consumer.Resume()
		}
	})
	return nil
}

func (c *consumers) SetConsumerPreferredLayers(ctx context.Context, id string, spatial, temporal int) error {
	if c.get(id) == nil {
		return ErrUnknownConsumer
	}

	err := c.room.request(ctx, signaling.MethodSetConsumerPreferredLayers, signaling.ConsumerLayersRequest{
		ConsumerID:    id,
		SpatialLayer:  spatial,
		TemporalLayer: temporal,
	}, nil)
	if err != nil {
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("Error setting Consumer preferred layers: %v", err))
		return NewError("set consumer preferred layers", err)
	}

	c.update(id, func(pc *PeerConsumer) {
		pc.PreferredSpatialLayer = spatial
		pc.PreferredTemporalLayer = temporal
	})
	return nil
}

func (c *consumers) SetConsumerPriority(ctx context.Context, id string, priority int) error {
	if c.get(id) == nil {
		return ErrUnknownConsumer
	}

	err := c.room.request(ctx, signaling.MethodSetConsumerPriority, signaling.ConsumerPriorityRequest{
		ConsumerID: id,
		Priority:   priority,
	}, nil)
	if err != nil {
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("Error setting Consumer priority: %v", err))
		return NewError("set consumer priority", err)
	}

	c.update(id, func(pc *PeerConsumer) {
		pc.Priority = priority
	})
	return nil
}

func (c *consumers) RequestConsumerKeyFrame(ctx context.Context, id string) error {
	if c.get(id) == nil {
		return ErrUnknownConsumer
	}

	if err := c.room.request(ctx, signaling.MethodRequestConsumerKeyFrame, signaling.ConsumerRequest{ConsumerID: id}, nil); err != nil {
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("Error requesting key frame for Consumer: %v", err))
		return NewError("request consumer key frame", err)
	}

	c.room.notify(SourceConsumer, SeverityInfo, "Keyframe requested for video consumer")
	return nil
}

func (c *consumers) newDataConsumer(ctx context.Context, s signaling.NewDataConsumer) error {
	if !c.room.cfg.Consume {
		return ErrConsumeDisabled
	}
	if !c.room.cfg.UseDataChannel {
		return ErrDataChannelDisabled
	}

	log := c.log.With().Str("data_consumer_id", s.DataConsumerID).Str("peer_id", s.PeerID).Logger()

	if !c.room.peers.Has(s.PeerID) {
		log.Warn().Msg("dropping data consumer for unknown peer")
		return nil
	}

	transport := c.room.transports.recvTransport()
	if transport == nil {
		return ErrNoRecvTransport
	}

	dc, err := transport.ConsumeData(ctx, media.DataConsumerOptions{
		ID:                   s.DataConsumerID,
		DataProducerID:       s.DataProducerID,
		SctpStreamParameters: s.SctpStreamParameters,
		Label:                s.Label,
		Protocol:             s.Protocol,
		AppData:              withPeer(s.AppData, s.PeerID),
	})
	if err != nil {
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("Error creating a DataConsumer: %v", err))
		return err
	}

	peer, ok := c.room.peers.AddDataConsumer(s.PeerID, PeerDataConsumer{
		ID:             dc.ID(),
		DataProducerID: s.DataProducerID,
		Label:          s.Label,
		Protocol:       s.Protocol,
	})
	if !ok {
		dc.Close()
		return nil
	}

	c.mu.Lock()
	c.data[dc.ID()] = dc
	c.mu.Unlock()

	peerID := s.PeerID
	dc.OnTransportClose(func() {
		c.removeData(dc.ID())
	})
	dc.OnOpen(func() {
		log.Debug().Str("label", dc.Label()).Msg("data consumer open")
	})
	dc.OnClose(func() {
		log.Debug().Msg("data consumer closed")
		c.removeData(dc.ID())
	})
	dc.OnError(func(err error) {
		log.Error().Err(err).Msg("data consumer error")
		c.room.notify(SourceConsumer, SeverityError, fmt.Sprintf("DataConsumer error: %v", err))
	})
	dc.OnMessage(func(b []byte) {
		c.room.observer.OnDataMessage(peerID, ParseDataMessage(b))
	})

	log.Info().Str("label", s.Label).Msg("data consumer created")
	c.room.observer.OnPeer(peer)
	return nil
}

func (c *consumers) removeData(id string) {
	c.mu.Lock()
	delete(c.data, id)
	c.mu.Unlock()

	if peer, ok := c.room.peers.RemoveDataConsumer(id); ok {
		c.room.observer.OnPeer(peer)
	}
}

func (c *consumers) dataConsumerClosed(s signaling.DataConsumerClosed) {
	dc := c.takeData(s.DataConsumerID)
	if dc == nil {
		return
	}
	dc.Close()

	if peer, ok := c.room.peers.RemoveDataConsumer(s.DataConsumerID); ok {
		c.room.observer.OnPeer(peer)
	}
}

// dropPeer closes every flow the peer owned.
func (c *consumers) dropPeer(peer Peer) {
	for _, pc := range peer.Consumers {
		if consumer := c.take(pc.ID); consumer != nil {
			consumer.Close()
		}
	}
	for _, pdc := range peer.DataConsumers {
		if dc := c.takeData(pdc.ID); dc != nil {
			dc.Close()
		}
	}
}

// reset closes every consumer and empties the tables.
func (c *consumers) reset() {
	c.mu.Lock()
	byID, data := c.byID, c.data
	c.byID = make(map[string]media.Consumer)
	c.data = make(map[string]media.DataConsumer)
	c.mu.Unlock()

	for _, consumer := range byID {
		consumer.Close()
	}
	for _, dc := range data {
		dc.Close()
	}
}

func withPeer(appData map[string]any, peerID string) map[string]any {
	out := make(map[string]any, len(appData)+1)
	for k, v := range appData {
		out[k] = v
	}
	out["peerId"] = peerID
	return out
}
