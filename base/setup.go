package base

// Setup 加载配置并初始化日志，配置文件错误时保留默认值继续运行
func Setup(file string) {
	err := LoadConfig(file)
	InitLog()
	if err != nil {
		Error("load config:", err)
	}
	Debug("config:", *Cfg)
}
