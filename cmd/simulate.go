package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/driverlink/infra/logger"
	"github.com/kilianp07/driverlink/infra/mqtt"
	"github.com/kilianp07/driverlink/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Emulate the device bridge and dispatch backend over MQTT",
	RunE:  runSimulate,
}

var (
	simRoute        string
	simSpeed        float64
	simInterval     time.Duration
	simOfferEvery   time.Duration
	simRideDuration time.Duration
	simLocateDelay  time.Duration
	simDropRate     float64
	simDenyRate     float64
	simNoDispatch   bool
)

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simRoute, "route", "", "YAML waypoint file, defaults to a loop in central Paris")
	f.Float64Var(&simSpeed, "speed", 30, "driving speed in km/h")
	f.DurationVar(&simInterval, "interval", time.Second, "position publish interval")
	f.DurationVar(&simOfferEvery, "offer-every", time.Minute, "pause between ride offers")
	f.DurationVar(&simRideDuration, "ride-duration", 2*time.Minute, "delay before the arrival geofence fires, 0 disables")
	f.DurationVar(&simLocateDelay, "locate-delay", 0, "latency added to locate replies")
	f.Float64Var(&simDropRate, "locate-drop-rate", 0, "probability of ignoring a locate request")
	f.Float64Var(&simDenyRate, "locate-deny-rate", 0, "probability of answering permission_denied")
	f.BoolVar(&simNoDispatch, "no-dispatch", false, "only emulate the device")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	route := simulator.DefaultRoute
	if simRoute != "" {
		if route, err = simulator.LoadRoute(simRoute); err != nil {
			return err
		}
	}

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = ""
	mqttCfg.LWTTopic = ""
	client, err := mqtt.NewClient(mqttCfg, logger.New("sim-mqtt"))
	if err != nil {
		return err
	}
	defer client.Close()
	topics := client.Config()

	g, ctx := errgroup.WithContext(ctx)
	device := simulator.NewDevice(client, simulator.DeviceConfig{
		LocationTopic: topics.LocationTopic,
		LocateTopic:   topics.LocateTopic,
		Route:         route,
		SpeedKmh:      simSpeed,
		Interval:      simInterval,
		Fault:         simulator.NewFault(simLocateDelay, simDropRate, simDenyRate, 0),
	}, logger.New("sim-device"))
	g.Go(func() error { return device.Run(ctx) })

	if !simNoDispatch {
		dispatcher := simulator.NewDispatcher(client, simulator.DispatchConfig{
			TopicPrefix:  topics.TopicPrefix,
			AgentID:      cfg.Agent.ID,
			Route:        route,
			OfferEvery:   simOfferEvery,
			RideDuration: simRideDuration,
		}, logger.New("sim-dispatch"))
		g.Go(func() error { return dispatcher.Run(ctx) })
	}
	return g.Wait()
}
