package api

import (
	"context"
	"errors"
	"io"
	"sync"

	"dunrelay/access"
	"dunrelay/base"
	"dunrelay/dun"
	"dunrelay/link"
	"dunrelay/platform"
	"dunrelay/rfcomm"
	"dunrelay/rpc"
)

type agent struct {
	bluez    *platform.BlueZ
	notifier *platform.Notifier
	hub      *rpc.Hub
	data     dun.DataController
	service  *dun.Service

	cancel context.CancelFunc
	done   chan struct{}
}

var (
	mu      sync.Mutex
	running *agent
)

// Start 组装 BlueZ、通知、控制 RPC 与中继服务，不阻塞
func Start() error {
	mu.Lock()
	defer mu.Unlock()
	if running != nil {
		return errors.New("agent already running")
	}

	bluez, err := platform.NewBlueZ(base.Cfg.Adapter)
	if err != nil {
		return err
	}
	a := &agent{bluez: bluez, hub: rpc.NewHub(), done: make(chan struct{})}

	opts := dun.OptionsFromConfig(base.Cfg)
	opts.Link = link.Select(base.Cfg)
	opts.Listen = listen
	opts.Adapter = bluez
	opts.Store = access.NewFileStore(base.Cfg.AccessFile)
	a.data = platform.NewDataController(base.Cfg)
	opts.Data = a.data
	opts.Registry = a.hub
	opts.Broadcaster = a.hub
	// 没有桌面会话时只能通过控制 RPC 授权
	a.notifier, err = platform.NewNotifier()
	if err != nil {
		base.Warn("notifications unavailable:", err)
		a.notifier = nil
	} else {
		opts.Notifier = a.notifier
	}
	a.service = dun.New(opts)

	if err = a.hub.Start(base.Cfg.ControlAddress, a.service); err != nil {
		a.close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go func() {
		if err := bluez.Watch(ctx, a.service); err != nil {
			base.Error("bluez watch:", err)
		}
	}()
	if a.notifier != nil {
		go func() {
			if err := a.notifier.Watch(ctx, a.service); err != nil {
				base.Error("notification watch:", err)
			}
		}()
	}
	go func() {
		defer close(a.done)
		_ = a.service.Run(ctx)
	}()
	running = a
	return nil
}

func listen() (rfcomm.Listener, error) {
	l, err := rfcomm.Listen(rfcomm.Options{
		Channel: base.Cfg.RFCOMMChannel,
		Modem: rfcomm.ModemOpts{
			Level: base.Cfg.ModemOptLevel,
			Get:   base.Cfg.ModemOptGet,
			Set:   base.Cfg.ModemOptSet,
			Clr:   base.Cfg.ModemOptClr,
		},
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Stop 释放所有连接，等同于蓝牙关闭
func Stop() {
	mu.Lock()
	a := running
	running = nil
	mu.Unlock()
	if a == nil {
		return
	}
	a.cancel()
	<-a.done
	a.close()
	base.Info("agent stopped")
}

func (a *agent) close() {
	a.hub.Stop()
	if a.notifier != nil {
		_ = a.notifier.Close()
	}
	closeData(a.data)
	_ = a.bluez.Close()
}

// closeData 释放数据开关持有的总线连接
func closeData(dc dun.DataController) {
	c, ok := dc.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		base.Warn("close data controller:", err)
	}
}

// Status 服务未运行时返回 nil
func Status() *dun.Status {
	mu.Lock()
	defer mu.Unlock()
	if running == nil {
		return nil
	}
	st := running.service.Status()
	return &st
}
