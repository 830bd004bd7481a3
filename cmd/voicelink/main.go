// Command voicelink is a peer-to-peer voice link over UDP. One side
// listens, the other calls its address; audio flows both ways until either
// side hangs up.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"voicelink/internal/config"
	"voicelink/internal/network"
	"voicelink/internal/pipeline"
)

func main() {
	var (
		listenPort = pflag.IntP("listen", "l", 0, "Listen for an incoming call on this port.")
		callAddr   = pflag.StringP("call", "c", "", "Call a peer at host:port.")
		loopback   = pflag.IntP("loopback", "L", 0, "Run a local mic→speaker loopback test for N seconds.")
		configPath = pflag.StringP("config", "f", "", "Path to a YAML config file.")
		preset     = pflag.StringP("preset", "p", "", "Config preset: lan, wan, or test.")
		devices    = pflag.BoolP("devices", "d", false, "List audio devices and exit.")
		verbose    = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	)
	pflag.Parse()

	log.SetReportTimestamp(true)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := loadConfig(*configPath, *preset)
	if err != nil {
		log.Fatal("config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *devices:
		err = listDevices()
	case *loopback > 0:
		err = runLoopback(ctx, cfg, time.Duration(*loopback)*time.Second)
	case *listenPort > 0:
		err = runListener(ctx, cfg, *listenPort)
	case *callAddr != "":
		err = runCaller(ctx, cfg, *callAddr)
	default:
		pflag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("exit", "err", err)
	}
}

// loadConfig resolves the config file and preset flags; the file wins over
// the preset when both are given.
func loadConfig(path, preset string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Preset(preset)
}

// runLoopback runs the no-network pipeline and prints its stats.
func runLoopback(ctx context.Context, cfg config.Config, d time.Duration) error {
	log.Info("loopback test — you will hear your own voice", "duration", d)

	p, err := pipeline.New(cfg.Audio)
	if err != nil {
		return err
	}
	stats, err := p.RunLoopback(ctx, d)
	if err != nil {
		return err
	}

	fmt.Printf("captured:     %d frames\n", stats.FramesCaptured)
	fmt.Printf("played:       %d frames\n", stats.FramesPlayed)
	fmt.Printf("avg latency:  %.1f ms\n", stats.AvgLatencyMs)
	fmt.Printf("avg level:    %.3f RMS\n", stats.AvgRMSLevel)
	fmt.Printf("compression:  %.1fx\n", stats.AvgCompressionRatio)
	fmt.Printf("overflows:    %d  underruns: %d  capture drops: %d\n",
		stats.BufferOverflows, stats.BufferUnderruns, stats.CaptureDrops)
	return nil
}

// runListener answers calls until interrupted. Each accepted connection
// runs as a full call; when the peer leaves we go back to waiting.
func runListener(ctx context.Context, cfg config.Config, port int) error {
	session, err := network.NewSession(cfg.Network)
	if err != nil {
		return err
	}
	defer session.Close()

	if ip, err := localIP(); err == nil {
		log.Info("waiting for a call", "addr", fmt.Sprintf("%s:%d", ip, port))
	}

	for {
		if err := session.AcceptOne(ctx, port); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		call, err := pipeline.NewCall(cfg.Audio, session)
		if err != nil {
			return err
		}
		if err := call.Run(ctx); err != nil {
			log.Warn("call ended", "err", err)
		}
		printSessionStats(session)
		session.Disconnect()

		if ctx.Err() != nil {
			return nil
		}
		log.Info("waiting for the next call")
	}
}

// runCaller dials a peer and runs the call.
func runCaller(ctx context.Context, cfg config.Config, addrStr string) error {
	addr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addrStr, err)
	}

	session, err := network.NewSession(cfg.Network)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.ConnectToPeer(ctx, addr); err != nil {
		return err
	}

	call, err := pipeline.NewCall(cfg.Audio, session)
	if err != nil {
		return err
	}

	err = call.Run(ctx)
	printSessionStats(session)
	return err
}

// printSessionStats reports the session counters at call end.
func printSessionStats(session *network.Session) {
	stats := session.NetworkStats()
	fmt.Printf("sent: %d  received: %d  lost: %d  corrupted: %d  rejected: %d\n",
		stats.PacketsSent, stats.PacketsReceived, stats.PacketsLost,
		stats.PacketsCorrupted, stats.PacketsRejected)
	fmt.Printf("quality: %s  bandwidth: %s/s  reconnects: %d\n",
		stats.ConnectionQuality(), formatBytes(int(stats.BandwidthBytesPerSec)),
		stats.ReconnectCount)
}

// listDevices prints every audio device with its channel counts.
func listDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return err
	}
	for i, d := range devs {
		kind := "in/out"
		switch {
		case d.MaxInputChannels == 0:
			kind = "out"
		case d.MaxOutputChannels == 0:
			kind = "in"
		}
		fmt.Printf("%2d  %-5s %s (in:%d out:%d @ %.0f Hz)\n",
			i, kind, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return nil
}

// localIP finds the primary local address by routing a UDP "connection"
// toward a public address; no traffic is sent.
func localIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int) string {
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", n, units[0])
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
