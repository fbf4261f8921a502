// Command execbox starts an http server that compiles and runs untrusted
// source bundles inside short-lived sandbox containers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/execbox/execbox/cmd/execbox/config"
	restexecutor "github.com/execbox/execbox/cmd/execbox/rest_executor"
	"github.com/execbox/execbox/cmd/execbox/version"
	wsexecutor "github.com/execbox/execbox/cmd/execbox/ws_executor"
	"github.com/execbox/execbox/runner"
	"github.com/execbox/execbox/sandbox"
	"github.com/execbox/execbox/sanitize"
	"github.com/execbox/execbox/session"
	"github.com/execbox/execbox/worker"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", conf)))
	}
	warnIfNotLinux()

	cli, err := sandbox.NewClient()
	if err != nil {
		logger.Fatal("container daemon unreachable", zap.Error(err))
	}
	mgr := sandbox.NewManager(cli, sandbox.Config{
		Runtime:     conf.DockerRuntime,
		NanoCPUs:    conf.NanoCPUs(),
		MemoryBytes: conf.MemoryBytes(),
		WallClock:   time.Duration(conf.ExecutionTimeLimit) * time.Millisecond,
		StopTimeout: time.Second,
	}, logger)

	run := runner.New(mgr, runner.Config{
		Images: runner.Images{
			Python:         conf.DockerImagePython,
			PythonUnittest: conf.DockerImagePythonUnittest,
			Java:           conf.DockerImageJava,
			JavaJunit:      conf.DockerImageJavaJunit,
			Cpp:            conf.DockerImageCpp,
			CppDoctest:     conf.DockerImageCppDoctest,
		},
		TmpRoot:   conf.HostTmpDir,
		Sanitizer: loadSanitizer(conf),
	}, logger)

	coord := session.NewCoordinator(mgr, session.Images{
		Python: conf.DockerImagePythonSession,
		Java:   conf.DockerImageJavaSession,
	}, conf.HostTmpDir, logger)

	work := worker.New(worker.Config{Parallelism: conf.Parallelism})
	work.Start()
	logger.Info("Worker started", zap.Int("parallelism", conf.Parallelism))

	servers := []initFunc{
		cleanUpWorker(work),
		initHTTPServer(conf, work, run, coord),
		initMonitorHTTPServer(conf),
	}

	// graceful shutdown with signal / http server / monitor http server
	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, s := range servers {
		start, stop := s()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting Down...")

	ctx, cancel := context.WithTimeout(context.TODO(), time.Second*3)
	defer cancel()

	var eg errgroup.Group
	for _, s := range stops {
		eg.Go(func() error {
			return s(ctx)
		})
	}

	go func() {
		logger.Info("Shutdown Finished", zap.Error(eg.Wait()))
		cancel()
	}()
	<-ctx.Done()
}

func warnIfNotLinux() {
	if runtime.GOOS != "linux" {
		logger.Warn("Platform is not primarily supported", zap.String("GOOS", runtime.GOOS))
		logger.Warn("Please notice that the primary supporting platform is Linux")
	}
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

type (
	stopFunc func(ctx context.Context) error
	initFunc func() (start func(), cleanUp stopFunc)
)

func cleanUpWorker(work worker.Worker) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			work.Shutdown()
			logger.Info("Worker shutdown")
			return nil
		}
	}
}

func initHTTPServer(conf *config.Config, work worker.Worker, run *runner.Runner, coord *session.Coordinator) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		r := initHTTPMux(conf, work, run, coord)
		srv := http.Server{
			Addr:    conf.HTTPAddr,
			Handler: r,
		}

		return func() {
				logger.Info("Starting http server", zap.String("addr", conf.HTTPAddr))
				if err := srv.ListenAndServe(); errors.Is(err, http.ErrServerClosed) {
					logger.Info("Http server stopped", zap.Error(err))
				} else {
					logger.Error("Http server stopped", zap.Error(err))
				}
			}, func(ctx context.Context) error {
				logger.Info("Http server shutting down")
				return srv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				logger.Info("Starting monitoring http server", zap.String("addr", conf.MonitorAddr))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.ListenAndServe()))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		prodConf := zap.NewProductionConfig()
		prodConf.Level = zap.NewAtomicLevelAt(logLevel(conf.LogLevel))
		logger, err = prodConf.Build()
	} else {
		devConf := zap.NewDevelopmentConfig()
		devConf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		devConf.Level = zap.NewAtomicLevelAt(logLevel(conf.LogLevel))
		logger, err = devConf.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func logLevel(s string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zap.WarnLevel
	}
	return l
}

func loadSanitizer(conf *config.Config) *sanitize.RuleSet {
	if conf.SanitizeRules == "" {
		return sanitize.Default()
	}
	rs, err := sanitize.LoadRules(conf.SanitizeRules)
	if err != nil {
		logger.Fatal("load sanitize rules failed", zap.Error(err))
	}
	return rs
}

func initHTTPMux(conf *config.Config, work worker.Worker, run *runner.Runner, coord *session.Coordinator) http.Handler {
	var r *gin.Engine
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r = gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	if conf.EnableMetrics {
		initGinMetrics(r)
	}

	r.GET("/version", handleVersion)
	r.GET("/config", generateHandleConfig(conf))

	cmdHandle := restexecutor.NewCmdHandle(run, work, logger)
	cmdHandle.Register(r)
	sessionHandle := restexecutor.NewSessionHandle(coord, logger)
	sessionHandle.Register(r)

	wsHandle := wsexecutor.New(coord, logger)
	wsHandle.Register(r)

	return r
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		initDebugRoute(mux)
	}
	return mux
}

func initDebugRoute(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}

func handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"buildVersion": version.Version,
		"goVersion":    runtime.Version(),
		"platform":     runtime.GOARCH,
		"os":           runtime.GOOS,
	})
}

func generateHandleConfig(conf *config.Config) func(*gin.Context) {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"runtime":            conf.DockerRuntime,
			"cpuLimit":           conf.CPULimit,
			"memoryLimit":        conf.MemoryBytes(),
			"executionTimeLimit": conf.ExecutionTimeLimit,
			"parallelism":        conf.Parallelism,
			"languages": []string{
				string(runner.LangPython), string(runner.LangJava), string(runner.LangCpp),
			},
		})
	}
}
