// Command trxctl mirrors a remote trxd: it connects to the daemon's
// control and audio ports, keeps a local snapshot cache, re-serves the
// HTTP and rigctl frontends and bridges audio to the local devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/client"
	"github.com/sgrams/trxd/pkg/frontend"
	"github.com/sgrams/trxd/pkg/frontend/httpfe"
	"github.com/sgrams/trxd/pkg/frontend/rigctl"
	"github.com/sgrams/trxd/pkg/logging"
)

var (
	serverAddr = flag.String("server", "127.0.0.1:4532", "Remote daemon control address")
	audioAddr  = flag.String("audio", "127.0.0.1:4533", "Remote daemon audio address")
	token      = flag.String("token", "", "Authorization token")
	rigID      = flag.String("rig", "", "Target rig id (default rig when empty)")
	httpAddr   = flag.String("http", "", "Serve the HTTP frontend locally on this address")
	rigctlAddr = flag.String("rigctl", "", "Serve the rigctl frontend locally on this address")
	playback   = flag.Bool("play", true, "Play remote audio on the local output device")
	capture    = flag.Bool("mic", false, "Stream the local microphone as TX audio")
	listRigs   = flag.Bool("rigs", false, "List remote rigs and exit")
	logLevel   = flag.String("log", "info", "Log level")
)

func main() {
	flag.Parse()

	if err := logging.Init(logging.Options{Level: *logLevel, Console: true}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := client.NewRemote(client.Config{
		ServerAddr: *serverAddr,
		Token:      *token,
		RigID:      *rigID,
	})
	if err := remote.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer remote.Close()

	if *listRigs {
		rigs, err := remote.GetRigs()
		if err != nil {
			log.Fatalf("get_rigs failed: %v", err)
		}
		for _, r := range rigs {
			port := "-"
			if r.AudioPort != nil {
				port = fmt.Sprintf("%d", *r.AudioPort)
			}
			fmt.Printf("%-12s %-24s audio_port=%s\n", r.RigID, r.DisplayName, port)
		}
		return
	}

	bridge := client.NewAudioBridge(client.AudioBridgeConfig{
		ServerAddr: *audioAddr,
		Playback:   *playback,
		Capture:    *capture,
	})

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil {
				logging.Error("trxctl", fmt.Sprintf("%s exited: %v", name, err))
			}
		}()
	}

	run("poller", func() error { return remote.RunPoller(ctx) })
	run("audio-bridge", func() error { return bridge.Run(ctx) })

	// Local frontends delegate hardware ownership to the remote
	// daemon through the same spawn contract the daemon uses.
	runtime := &frontend.RuntimeContext{
		Decoded: bridge.Decoded(),
		SubscribePCM: func() *broadcast.Receiver[[]float32] {
			return bridge.PCM().Subscribe()
		},
	}
	env := frontend.Env{
		RigID:      *rigID,
		StateWatch: remote.StateWatch(),
		Do:         remote.Do,
		Runtime:    runtime,
	}

	registry := frontend.NewRegistry()
	registry.Register("http", httpfe.Serve)
	registry.Register("rigctl", rigctl.Serve)

	if *httpAddr != "" {
		httpEnv := env
		httpEnv.ListenAddr = *httpAddr
		if done, err := registry.Spawn(ctx, "http", httpEnv); err == nil {
			run("http", func() error { return <-done })
		}
	}
	if *rigctlAddr != "" {
		rigctlEnv := env
		rigctlEnv.ListenAddr = *rigctlAddr
		if done, err := registry.Spawn(ctx, "rigctl", rigctlEnv); err == nil {
			run("rigctl", func() error { return <-done })
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logging.Info("trxctl", "shutting down")
	cancel()
	wg.Wait()
}
