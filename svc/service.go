package svc

import (
	"fmt"

	"dunrelay/api"
	"dunrelay/base"
	"github.com/kardianos/service"
)

type program struct {
	configFile string
}

var logger service.Logger

var (
	serviceConfig *service.Config
	prg           = &program{}
)

func init() {
	serviceConfig = &service.Config{
		Name:        "dunagent",
		DisplayName: "DUN Relay Agent",
		Description: "Bluetooth Dial-up Networking relay service",
	}
}

// Start should not block. Do the actual work async.
func (p *program) Start(s service.Service) error {
	if logger != nil {
		if service.Interactive() {
			logger.Info("Running in terminal.")
		} else {
			logger.Info("Running under service manager.")
		}
	}
	go p.run()
	return nil
}

// Stop should not block. Return with a few seconds.
func (p *program) Stop(s service.Service) error {
	if logger != nil {
		logger.Info("Stopping")
	}
	if st := api.Status(); st != nil && st.Session != nil {
		base.Info("releasing session with", st.Session.Device)
	}
	api.Stop()
	return nil
}

func (p *program) run() {
	base.Setup(p.configFile)
	if err := api.Start(); err != nil {
		// 无法启动则退出服务或应用
		base.Fatal("start agent:", err)
	}
}

func newService(configFile string) (service.Service, error) {
	prg.configFile = configFile
	if configFile != "" {
		serviceConfig.Arguments = []string{"run", "--config", configFile}
	} else {
		serviceConfig.Arguments = []string{"run"}
	}
	return service.New(prg, serviceConfig)
}

// RunSvc 前台运行或由服务管理器启动，收到 SIGINT/SIGTERM 时经 Stop 释放连接
func RunSvc(configFile string) {
	svc, err := newService(configFile)
	if err != nil {
		fmt.Println("Cannot create the service: " + err.Error())
		return
	}
	errs := make(chan error, 5)
	logger, err = svc.Logger(errs)
	if err != nil {
		fmt.Println("Cannot open a system logger: " + err.Error())
	}
	err = svc.Run()
	if err != nil {
		fmt.Println("Cannot start the service: " + err.Error())
	}
}

func InstallSvc(configFile string) {
	svc, err := newService(configFile)
	if err != nil {
		fmt.Println("Cannot create the service: " + err.Error())
		return
	}
	err = svc.Install()
	if err != nil {
		fmt.Println("Cannot install the service: " + err.Error())
	} else {
		err := svc.Start()
		if err != nil {
			fmt.Println("Cannot start the service: " + err.Error())
		}
	}
}

func UninstallSvc() {
	svc, err := newService("")
	if err != nil {
		fmt.Println("Cannot create the service: " + err.Error())
	} else {
		err = svc.Stop()
		if err != nil {
			fmt.Println("Cannot stop the service: " + err.Error())
		}
		err = svc.Uninstall()
		if err != nil {
			fmt.Println("Cannot uninstall the service: " + err.Error())
		}
	}
}
