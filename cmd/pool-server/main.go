// pool-server bridges a swim-current pool to HTTP clients: it speaks
// the pool's UDP broadcast protocol on one side and serves a WebSocket
// status feed plus a REST API on the other.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/smash0190/endlesspool/internal/events"
	"github.com/smash0190/endlesspool/internal/pool"
	"github.com/smash0190/endlesspool/internal/protocol"
	"github.com/smash0190/endlesspool/internal/server"
	"github.com/smash0190/endlesspool/internal/store"
	"github.com/smash0190/endlesspool/internal/strava"
)

func main() {
	pflag.String("config", "", "path to YAML config file")
	pflag.String("pool-addr", "", "pool device address (host or host:port)")
	pflag.Int("pool-port", protocol.DefaultPoolPort, "pool command port")
	pflag.Int("client-port", protocol.DefaultClientPort, "local port broadcasts arrive on")
	pflag.String("http-addr", ":8000", "HTTP listen address")
	pflag.String("data-dir", "data", "directory for user data")
	pflag.String("log-file", "", "log file path (empty: stderr only)")
	pflag.Duration("silence-window", pool.DefaultSilenceWindow, "mark status stale after this much silence")
	pflag.Duration("ack-timeout", pool.DefaultAckTimeout, "program launch acknowledgement timeout")
	pflag.Bool("sim", false, "run against a built-in simulated pool")
	pflag.Parse()

	v := viper.New()
	must("bind flags", v.BindPFlags(pflag.CommandLine))
	v.SetEnvPrefix("ENDLESSPOOL")
	v.AutomaticEnv()
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		must("read config file", v.ReadInConfig())
	}

	logger := newLogger(v.GetString("log-file"))
	logger.Printf("Main: pool-server starting")

	dataStore, err := store.New(v.GetString("data-dir"), logger)
	must("open data store", err)

	poolAddr := v.GetString("pool-addr")
	clientPort := v.GetInt("client-port")

	var sim *pool.Simulator
	if v.GetBool("sim") {
		sim, err = pool.NewSimulator(v.GetInt("pool-port"), fmt.Sprintf("127.0.0.1:%d", clientPort), 0, logger)
		must("start simulator", err)
		sim.Start()
		poolAddr = sim.Addr()
		logger.Printf("Main: simulated pool at %s", poolAddr)
	} else {
		if poolAddr == "" {
			fmt.Fprintln(os.Stderr, "pool-server: --pool-addr is required (or use --sim)")
			os.Exit(2)
		}
		poolAddr = withDefaultPort(poolAddr, v.GetInt("pool-port"))
	}

	link, err := pool.NewLink(pool.LinkConfig{
		PoolAddr:      poolAddr,
		ListenPort:    clientPort,
		SilenceWindow: v.GetDuration("silence-window"),
	}, logger)
	must("open device link", err)
	link.Start()

	recorder := pool.NewRecorder(dataStore.Workouts(), logger)
	hub := pool.NewHub(link, recorder, logger)
	runner := pool.NewRunner(link, logger, v.GetDuration("ack-timeout"))
	stravaClient := strava.NewClient(dataStore, logger)

	srv := server.New(server.Config{ListenAddr: v.GetString("http-addr")},
		hub, runner, recorder, dataStore.Users(), dataStore.Programs(),
		dataStore.Workouts(), stravaClient, logger)

	serverErr := make(chan error, 1)
	events.SafeGo(logger, func() { serverErr <- srv.Start() })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Printf("Main: signal received, shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Printf("Main: http server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Main: http shutdown: %v", err)
	}
	runner.Shutdown()
	hub.Shutdown()
	if done := recorder.Finalize(); done != nil {
		logger.Printf("Main: finalized in-flight workout %s", done.ID)
	}
	link.Shutdown()
	if sim != nil {
		sim.Shutdown()
	}
	logger.Printf("Main: pool-server stopped")
}

// newLogger writes to stderr, and additionally to a size-rotated file
// when a path is given.
func newLogger(logFile string) *log.Logger {
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(out, "", log.LstdFlags)
}

// withDefaultPort appends port unless addr already carries one.
func withDefaultPort(addr string, port int) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr
		}
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
