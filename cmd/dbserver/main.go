// Command dbserver runs the recdb service: the binary protocol listener
// on one TCP port plus the HTTP admin surface on another (spec §5).
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/aurorakv/recdb/internal/dbserver"
)

func main() {
	var (
		addr       = pflag.String("addr", "0.0.0.0", "bind address")
		port       = pflag.Int("port", 7070, "binary protocol port (spec default: 7070 for the database service)")
		httpPort   = pflag.Int("http_port", 7071, "HTTP admin port")
		dbdir      = pflag.String("dbdir", "./data", "directory holding mounted databases")
		workers    = pflag.Int("workers", 64, "max concurrently in-flight protocol requests")
		idle       = pflag.Duration("idle_timeout", 600*time.Second, "idle connection timeout")
		autoMount  = pflag.Bool("auto_mount", true, "mount every database found under dbdir on startup")
		recover    = pflag.Bool("recover", false, "abort startup instead of warning when an auto-mounted database fails to open")
		devLogging = pflag.Bool("dev_logging", false, "use zap's human-readable development logger")
	)
	pflag.Parse()

	logger, err := newLogger(*devLogging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	svc, err := dbserver.New(dbserver.Config{
		DBDir:      *dbdir,
		MaxWorkers: *workers,
		MaxIdle:    *idle,
		AutoMount:  *autoMount,
		Recover:    *recover,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("dbserver: startup failed", zap.Error(err))
	}

	binAddr := net.JoinHostPort(*addr, strconv.Itoa(*port))
	ln, err := net.Listen("tcp", binAddr)
	if err != nil {
		logger.Fatal("dbserver: listen failed", zap.String("addr", binAddr), zap.Error(err))
	}

	httpAddr := net.JoinHostPort(*addr, strconv.Itoa(*httpPort))
	httpSrv := &http.Server{Addr: httpAddr, Handler: svc.Handler()}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		logger.Info("dbserver: binary protocol listening", zap.String("addr", binAddr))
		if err := svc.Serve(ctx, ln); err != nil {
			logger.Error("dbserver: serve exited", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("dbserver: http admin listening", zap.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("dbserver: http serve exited", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("dbserver: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)

	if err := svc.Shutdown(); err != nil {
		logger.Error("dbserver: shutdown error", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

