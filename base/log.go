package base

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// 相当于枚举，只有小于设置级别的日志才会输出，不区分大小写
// Debug < Info < Warn < Error < Fatal
const (
	_Debug = iota
	_Info
	_Warn
	_Error
	_Fatal
)

var (
	baseWriter *logWriter
	baseLogger *logrus.Logger
	baseLevel  int
	levels     = map[int]string{
		_Debug: "Debug",
		_Info:  "Info",
		_Warn:  "Warn",
		_Error: "Error",
		_Fatal: "Fatal",
	}
	logrusLevels = map[int]logrus.Level{
		_Debug: logrus.DebugLevel,
		_Info:  logrus.InfoLevel,
		_Warn:  logrus.WarnLevel,
		_Error: logrus.ErrorLevel,
		_Fatal: logrus.FatalLevel,
	}

	logName = "dunagent.log"
)

type logWriter struct {
	UseStdout bool
	FileName  string
	File      *os.File
}

func (lw *logWriter) Write(p []byte) (n int, err error) {
	return lw.File.Write(p)
}

// 创建新文件
func (lw *logWriter) newFile() error {
	if lw.UseStdout {
		lw.File = os.Stdout
		return nil
	}
	if Cfg.LogPath != "" {
		err := os.MkdirAll(Cfg.LogPath, os.ModePerm)
		if err != nil {
			lw.UseStdout = true
			lw.File = os.Stdout
			return err
		}
	}
	// 每次重启服务或者配置更改重新生成干净日志
	_ = os.Remove(lw.FileName)
	f, err := os.OpenFile(lw.FileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		lw.UseStdout = true
		lw.File = os.Stdout
		return err
	}
	lw.File = f
	return nil
}

func InitLog() {
	old := baseWriter
	baseWriter = &logWriter{
		UseStdout: Cfg.LogPath == "",
		FileName:  path.Join(Cfg.LogPath, logName),
	}
	baseLevel = logLevel2Int(Cfg.LogLevel)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableLevelTruncation: true})
	logger.SetLevel(logrusLevels[baseLevel])

	err := baseWriter.newFile()
	logger.SetOutput(baseWriter)
	baseLogger = logger
	if old != nil && old.File != nil && old.File != os.Stdout {
		_ = old.File.Close()
	}
	if err != nil {
		Error(err)
	}
}

// GetBaseLogger 也用于 jsonrpc2.SetLogger
func GetBaseLogger() *logrus.Logger {
	if baseLogger == nil {
		InitLog()
	}
	return baseLogger
}

func logLevel2Int(l string) int {
	lvl := _Info
	for k, v := range levels {
		if strings.EqualFold(l, v) {
			lvl = k
		}
	}
	return lvl
}

func output(l int, s ...interface{}) {
	logger := GetBaseLogger()
	entry := logrus.NewEntry(logger)
	if _, file, line, ok := runtime.Caller(2); ok {
		entry = entry.WithField("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	entry.Log(logrusLevels[l], strings.TrimSuffix(fmt.Sprintln(s...), "\n"))
}

func Debug(v ...interface{}) {
	l := _Debug
	if baseLevel > l {
		return
	}
	output(l, v...)
}

func Info(v ...interface{}) {
	l := _Info
	if baseLevel > l {
		return
	}
	output(l, v...)
}

func Warn(v ...interface{}) {
	l := _Warn
	if baseLevel > l {
		return
	}
	output(l, v...)
}

func Error(v ...interface{}) {
	l := _Error
	if baseLevel > l {
		return
	}
	output(l, v...)
}

func Fatal(v ...interface{}) {
	l := _Fatal
	if baseLevel > l {
		return
	}
	output(l, v...)
	os.Exit(1)
}
