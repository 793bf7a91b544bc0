package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

// transports owns the send and receive transports and bridges their
// negotiation listeners to relay requests.
type transports struct {
	room *Room
	log  zerolog.Logger

	mu   sync.Mutex
	send media.Transport
	recv media.Transport
}

func newTransports(r *Room) *transports {
	return &transports{room: r, log: logging.Module("transport")}
}

func (m *transports) sendTransport() media.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send
}

func (m *transports) recvTransport() media.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recv
}

func (m *transports) createSend(ctx context.Context, device media.Device) error {
	t, err := m.create(ctx, device, media.DirectionSend)
	if err != nil {
		return err
	}

	t.OnProduce(func(ctx context.Context, p media.ProduceParameters) (string, error) {
		var res signaling.IDResponse
		err := m.room.request(ctx, signaling.MethodProduce, signaling.ProduceRequest{
			TransportID:   t.ID(),
			Kind:          p.Kind,
			RtpParameters: p.RtpParameters,
			AppData:       p.AppData,
		}, &res)
		if err != nil {
			return "", err
		}
		return res.ID, nil
	})

	t.OnProduceData(func(ctx context.Context, p media.ProduceDataParameters) (string, error) {
		var res signaling.IDResponse
		err := m.room.request(ctx, signaling.MethodProduceData, signaling.ProduceDataRequest{
			TransportID:          t.ID(),
			SctpStreamParameters: p.SctpStreamParameters,
			Label:                p.Label,
			Protocol:             p.Protocol,
			AppData:              p.AppData,
		}, &res)
		if err != nil {
			return "", err
		}
		return res.ID, nil
	})

	m.install(t)
	return nil
}

func (m *transports) createRecv(ctx context.Context, device media.Device) error {
	t, err := m.create(ctx, device, media.DirectionRecv)
	if err != nil {
		return err
	}
	m.install(t)
	return nil
}

// create asks the relay for connection parameters, builds the local
// transport and wires the connect bridge every direction needs.
func (m *transports) create(ctx context.Context, device media.Device, dir media.Direction) (media.Transport, error) {
	cfg := m.room.cfg

	req := signaling.CreateTransportRequest{
		ForceTCP:  cfg.ForceTCP,
		Producing: dir == media.DirectionSend,
		Consuming: dir == media.DirectionRecv,
	}
	if cfg.UseDataChannel {
		caps := device.SctpCapabilities()
		req.SctpCapabilities = &caps
	}

	var opts media.TransportOptions
	if err := m.room.request(ctx, signaling.MethodCreateWebRtcTransport, req, &opts); err != nil {
		return nil, err
	}

	var (
		t   media.Transport
		err error
	)
	if dir == media.DirectionSend {
		t, err = device.CreateSendTransport(opts)
	} else {
		t, err = device.CreateRecvTransport(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", dir, err)
	}

	t.OnConnect(func(ctx context.Context, dtls media.DtlsParameters) error {
		return m.room.request(ctx, signaling.MethodConnectWebRtcTransport, signaling.ConnectTransportRequest{
			TransportID:    t.ID(),
			DtlsParameters: dtls,
		}, nil)
	})

	log := m.log.With().Str("transport_id", t.ID()).Str("direction", string(dir)).Logger()
	t.OnConnectionStateChange(func(state media.ConnectionState) {
		log.Debug().Str("state", string(state)).Msg("connection state changed")

		switch state {
		case media.ConnectionFailed:
			m.room.notify(SourceTransport, SeverityError, fmt.Sprintf("%s transport connection failed", dir))
		case media.ConnectionDisconnected:
			m.room.notify(SourceTransport, SeverityWarning, fmt.Sprintf("%s transport disconnected", dir))
		}
	})

	log.Info().Msg("transport created")
	return t, nil
}

// install makes t the current transport of its direction, closing any
// transport it replaces.
func (m *transports) install(t media.Transport) {
	m.mu.Lock()
	var old media.Transport
	if t.Direction() == media.DirectionSend {
		old, m.send = m.send, t
	} else {
		old, m.recv = m.recv, t
	}
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// close closes both transports and forgets them. Producers and consumers
// they carry learn about it through their transport-close listeners.
func (m *transports) close() {
	m.mu.Lock()
	send, recv := m.send, m.recv
	m.send, m.recv = nil, nil
	m.mu.Unlock()

	for _, t := range []media.Transport{send, recv} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			m.log.Debug().Err(err).Str("transport_id", t.ID()).Msg("transport close")
		}
	}
}

// restartICE asks the relay for fresh ICE parameters for each live
// transport and hands them to the engine.
func (m *transports) restartICE(ctx context.Context) error {
	var errs []error

	for _, t := range []media.Transport{m.sendTransport(), m.recvTransport()} {
		if t == nil {
			continue
		}

		var res struct {
			IceParameters media.IceParameters `json:"iceParameters"`
		}
		if err := m.room.request(ctx, signaling.MethodRestartIce, signaling.RestartIceRequest{TransportID: t.ID()}, &res); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := t.RestartICE(ctx, res.IceParameters); err != nil {
			errs = append(errs, fmt.Errorf("transport %s: %w", t.ID(), err))
		}
	}

	return errors.Join(errs...)
}
