// Command unitd runs an access-controlled unit: it drives the lock, button,
// card reader and display and talks to the access server over MQTT or NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openunitstate/unitd/internal/config"
	"github.com/openunitstate/unitd/internal/display"
	"github.com/openunitstate/unitd/internal/gpio"
	"github.com/openunitstate/unitd/internal/logic"
	"github.com/openunitstate/unitd/internal/metrics"
	"github.com/openunitstate/unitd/internal/network"
	"github.com/openunitstate/unitd/internal/rfid"
	"github.com/openunitstate/unitd/internal/status"
	"github.com/openunitstate/unitd/internal/transport"
	"github.com/openunitstate/unitd/internal/update"
	"github.com/openunitstate/unitd/internal/web"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	bootSplash          = 2 * time.Second
	httpShutdownTimeout = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "", "YAML config file (empty for built-in defaults)")
	flag.String("broker", "", "Broker URL, overrides transport.broker")
	flag.String("unit-id", "", "Unit id, overrides unit.id")
	flag.String("http", "", `HTTP status address, overrides http.addr ("off" disables)`)
	useConsole := flag.Bool("console", false, "Interactive bench console")
	printState := flag.Bool("print-state", false, "Print button state and exit")

	flag.Parse()

	log.Logger = newLogger(config.Default().Log, os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("load config")
	}
	if err := applyFlags(cfg, flag.CommandLine); err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}
	log.Logger = newLogger(cfg.Log, os.Stderr)

	restarter, err := update.NewExecRestarter()
	if err != nil {
		log.Fatal().Err(err).Msg("init restarter")
	}

	err = restartIfRequested(run(cfg, *useConsole, *printState), restarter)
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

// newLogger builds the process logger and sets the global level.
func newLogger(lc config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := w
	if lc.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// applyFlags copies explicitly set flags over the loaded config and
// validates the result.
func applyFlags(cfg *config.Config, fs *flag.FlagSet) error {
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "broker":
			cfg.Transport.Broker = v
		case "unit-id":
			cfg.Unit.ID = v
		case "http":
			if v == "off" {
				v = ""
			}
			cfg.HTTP.Addr = v
		}
	})
	return cfg.Validate()
}

// restartIfRequested replaces the process when the loop asked for it.
func restartIfRequested(err error, r update.Restarter) error {
	if !errors.Is(err, errRestart) {
		return err
	}
	log.Info().Msg("re-executing")
	return r.Restart()
}

func run(cfg *config.Config, useConsole, printState bool) error {
	unitID := cfg.ResolveUnitID(config.MachineIDPath)
	fw := cfg.Unit.FirmwareVersion
	if fw == "" {
		fw = version
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var con *console
	if useConsole && !printState {
		c, err := newConsole()
		if err != nil {
			return err
		}
		con = c
		log.Logger = newLogger(cfg.Log, con.Stderr())
		defer func() {
			log.Logger = newLogger(cfg.Log, os.Stderr)
			con.Close()
		}()
	}

	// Initialize GPIO
	button, lock, err := openGPIO(cfg.GPIO, useConsole)
	if err != nil {
		return err
	}
	defer button.Close()
	defer lock.Close()

	// Print state mode
	if printState {
		down, err := button.Read()
		if err != nil {
			return fmt.Errorf("read button: %w", err)
		}
		fmt.Printf("BUTTON: %s\n", buttonString(down))
		return nil
	}

	lcd, err := openDisplay(cfg.Display)
	if err != nil {
		return err
	}
	defer lcd.Close()
	if err := display.Init(lcd); err != nil {
		log.Error().Err(err).Msg("init display")
	}
	showNotice(lcd, display.BootNotice(fw))
	time.Sleep(bootSplash)

	monitor := network.NewMonitor()
	showNotice(lcd, display.NoticeConnectingNetwork)
	if ip, err := monitor.WaitConnected(context.Background(), cfg.NetworkTimeout); err != nil {
		log.Warn().Err(err).Dur("timeout", cfg.NetworkTimeout).Msg("network not ready")
		showNotice(lcd, display.NoticeNetworkError)
	} else {
		log.Info().Str("ip", ip).Msg("network ready")
	}

	showNotice(lcd, display.NoticeInitReader)
	cards, err := openReader(cfg.RFID)
	if err != nil {
		return err
	}
	if cards != nil {
		defer cards.Close()
	}

	tr := newTransport(cfg, unitID)
	defer tr.Close()

	tracker := status.NewTracker(unitID, fw, time.Now(), status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		Transport:   cfg.Transport.Kind,
		Broker:      cfg.Transport.Broker,
		TopicPrefix: cfg.Transport.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	tracker.SetNetwork(network.ReadEnv())
	m := metrics.New()

	showNotice(lcd, display.NoticeInitUpdate)
	upd := update.NewUpdater(updateTarget(cfg.Update), cfg.Update.PasswordHash, log.Logger)

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, web.Options{Metrics: m.Handler(), Update: upd})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("http shutdown")
			}
		}()
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")

		if cfg.HTTP.MDNS {
			adv, err := web.Advertise("unitd-"+unitID, unitID, fw, httpPort(cfg.HTTP.Addr))
			if err != nil {
				log.Warn().Err(err).Msg("mdns advertisement")
			} else {
				defer adv.Shutdown()
			}
		}
	}

	log.Info().
		Str("unit", unitID).
		Str("fw", fw).
		Str("transport", cfg.Transport.Kind).
		Str("broker", cfg.Transport.Broker).
		Dur("poll", cfg.Poll).
		Msg("started")

	deps := loopDeps{
		Controller: logic.NewController(unitID, lock, log.Logger, time.Now()),
		Presenter:  display.NewPresenter(),
		Display:    lcd,
		Lock:       lock,
		Button:     button,
		Cards:      cards,
		Transport:  tr,
		Updater:    upd,
		Network:    monitor,
		Tracker:    tracker,
		Metrics:    m,
		RetryDelay: cfg.Transport.RetryDelay,
		Log:        log.Logger,

		NetworkTimeout: cfg.Transport.ConnectTimeout,
	}
	if con != nil {
		deps.Console = con.Inputs()
		go con.Run(sigCh)
	}

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	return runLoop(deps, time.Now, ticker.C, sigCh)
}

func openGPIO(cfg config.GPIOConfig, allowFake bool) (gpio.Button, gpio.Actuator, error) {
	lock, err := gpio.NewRealActuator(cfg.Chip, cfg.LockPin, cfg.LockActiveHigh)
	if err != nil {
		if !allowFake {
			return nil, nil, fmt.Errorf("init lock gpio: %w", err)
		}
		log.Warn().Err(err).Msg("gpio unavailable, simulating lock and button")
		return gpio.NewFakeButton(false), gpio.NewFakeActuator(), nil
	}
	button, err := gpio.NewRealButton(cfg.Chip, cfg.ButtonPin, cfg.ButtonActiveLow)
	if err != nil {
		lock.Close()
		return nil, nil, fmt.Errorf("init button gpio: %w", err)
	}
	return button, lock, nil
}

func openDisplay(sc config.SerialConfig) (display.Driver, error) {
	if sc.Device == "" {
		log.Info().Msg("no display configured, logging display output")
		return logDriver{FakeDriver: display.NewFakeDriver(), log: log.Logger}, nil
	}
	return display.NewSerialDriver(sc.Device, sc.Baud)
}

func openReader(sc config.SerialConfig) (rfid.Reader, error) {
	if sc.Device == "" {
		log.Info().Msg("no card reader configured")
		return nil, nil
	}
	r, err := rfid.NewSerialReader(sc.Device, sc.Baud, log.Logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newTransport(cfg *config.Config, unitID string) transport.Transport {
	tc := transport.Config{
		Broker:         cfg.Transport.Broker,
		Username:       cfg.Transport.Username,
		Password:       cfg.Transport.Password,
		UnitID:         unitID,
		Prefix:         cfg.Transport.TopicPrefix,
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		BufferSize:     cfg.Transport.BufferSize,
	}
	if cfg.Transport.Kind == config.KindNATS {
		return transport.NewNATS(tc, log.Logger)
	}
	return transport.NewMQTT(tc, log.Logger)
}

// updateTarget is the configured image path, or the running executable.
func updateTarget(uc config.UpdateConfig) string {
	if uc.Target != "" {
		return uc.Target
	}
	path, err := os.Executable()
	if err != nil {
		log.Warn().Err(err).Msg("locate executable, firmware updates disabled")
		return ""
	}
	return path
}

// httpPort extracts the port advertised over mDNS.
func httpPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return port
}

func showNotice(d display.Driver, n display.Notice) {
	if err := display.ShowNotice(d, n); err != nil {
		log.Error().Err(err).Msg("display")
	}
}

func buttonString(down bool) string {
	if down {
		return "PRESSED"
	}
	return "RELEASED"
}

// logDriver stands in for a missing display and logs each written line.
type logDriver struct {
	*display.FakeDriver
	log zerolog.Logger
}

func (d logDriver) WriteAt(line, col int, text string) error {
	if col == 0 {
		d.log.Debug().Int("line", line).Str("text", text).Msg("display")
	}
	return d.FakeDriver.WriteAt(line, col, text)
}
