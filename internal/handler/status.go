package handler

import (
	"time"

	"github.com/Tnze/go-mc/chat"

	"mc-frontend/internal/events"
	"mc-frontend/internal/protocol"
	"mc-frontend/internal/services"
)

// statusListener 服务器列表查询：一次响应，可选一次延迟测量，然后关闭
type statusListener struct {
	f        *Frontend
	s        protocol.Session
	v        *protocol.Version
	answered bool
	// pingTimer 响应发出后等待延迟测量，到期关闭会话
	pingTimer *time.Timer
}

func (l *statusListener) State() protocol.State { return protocol.StateStatus }

// HandleStatusRequest 构建视图，交给事件改写或取消后发送；之后只在 ping_timeout 内等待一次延迟测量
func (l *statusListener) HandleStatusRequest(*protocol.StatusRequest) error {
	if l.answered {
		l.s.Close()
		return nil
	}
	l.answered = true

	f := l.f
	ev := events.Publish(l.s.Context(), f.bus, &events.StatusPingEvent{
		RemoteAddr: l.s.RemoteAddr(),
		Version:    l.v,
		Response:   f.statusView(l.s, l.v),
	})
	if ev.Cancelled() || ev.Response == nil {
		l.s.Logger().Debug().Msg("状态查询被取消")
		l.s.Close()
		return nil
	}

	if err := f.audit.LogStatusQuery(remoteIP(l.s.RemoteAddr()), l.v.ID()); err != nil {
		f.logger.Error().Err(err).Msg("写入审计日志失败")
	}
	if err := l.s.Send(ev.Response); err != nil {
		return err
	}
	f.metrics.StatusResponse()

	if grace := f.cfg.Status.PingTimeout; grace > 0 {
		l.pingTimer = time.AfterFunc(grace, l.s.Close)
	} else {
		l.s.Close()
	}
	return nil
}

// HandleStatusPing 原样回显负载后关闭
func (l *statusListener) HandleStatusPing(p *protocol.StatusPing) error {
	if l.pingTimer != nil {
		l.pingTimer.Stop()
	}
	start := time.Now()
	err := l.s.Send(&protocol.StatusPong{Payload: p.Payload})
	l.f.perf.RecordRequest(8, time.Since(start))
	l.s.Close()
	return err
}

// statusView 按监听地址配置构建状态响应，有在线数据源时用它覆盖人数和样本
func (f *Frontend) statusView(s protocol.Session, v *protocol.Version) *protocol.StatusResponse {
	settings := f.settingsFor(s)

	resp := &protocol.StatusResponse{
		VersionName:     f.cfg.Status.VersionName,
		VersionProtocol: v.ID(),
		MaxPlayers:      settings.MaxPlayers,
		MOTD:            chat.Text(settings.MOTD),
		Favicon:         settings.Favicon,
	}
	if resp.VersionName == "" {
		resp.VersionName = v.Name()
	}

	source, ok := services.Lookup[services.PlayerSource](f.services, services.KeyPlayerSource)
	if !ok {
		return resp
	}
	snapshot, ok := source.Players()
	if !ok {
		return resp
	}

	resp.OnlinePlayers = snapshot.Online
	if snapshot.Max > 0 {
		resp.MaxPlayers = snapshot.Max
	}
	if snapshot.VersionName != "" {
		resp.VersionName = snapshot.VersionName
	}
	sample := snapshot.Sample
	if limit := max(settings.SampleSize, 0); len(sample) > limit {
		sample = sample[:limit]
	}
	resp.PlayerSample = append([]protocol.PlayerSample(nil), sample...)
	return resp
}
