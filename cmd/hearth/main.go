package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthaudio/hearth/internal/adapters/clock"
	"github.com/hearthaudio/hearth/internal/adapters/config"
	"github.com/hearthaudio/hearth/internal/adapters/idgen"
	"github.com/hearthaudio/hearth/internal/adapters/mqtt"
	"github.com/hearthaudio/hearth/internal/adapters/output"
	"github.com/hearthaudio/hearth/internal/cli"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

type app struct {
	service cli.Service
	printer output.Printer
	json    bool
	timeout time.Duration
}

func main() {
	root := &cobra.Command{
		Use:   "hearth",
		Short: "Hearth audio controller CLI",
	}

	var (
		broker    string
		topicBase string
		identity  string
		timeout   time.Duration
		jsonOut   bool
		tlsCA     string
		tlsCert   string
		tlsKey    string
		userOpt   string
		passOpt   string
	)

	root.PersistentFlags().StringVarP(&broker, "broker", "b", "", "MQTT broker URL")
	root.PersistentFlags().StringVar(&topicBase, "topic-base", hearth.BaseTopic, "MQTT topic base")
	root.PersistentFlags().StringVarP(&identity, "identity", "i", "", "caller identity")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().StringVar(&tlsCA, "tls-ca", "", "TLS CA path")
	root.PersistentFlags().StringVar(&tlsCert, "tls-cert", "", "TLS cert path")
	root.PersistentFlags().StringVar(&tlsKey, "tls-key", "", "TLS key path")
	root.PersistentFlags().StringVar(&userOpt, "user", "", "MQTT username")
	root.PersistentFlags().StringVar(&passOpt, "pass", "", "MQTT password")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		identity = defaultIdentity(identity, cfg.Identity)
		if broker == "" {
			broker = cfg.Broker
		}
		if topicBase == hearth.BaseTopic && cfg.TopicBase != "" {
			topicBase = cfg.TopicBase
		}
		if userOpt == "" {
			userOpt = cfg.User
			passOpt = cfg.Pass
		}
		if tlsCA == "" && tlsCert == "" && tlsKey == "" {
			tlsCA, tlsCert, tlsKey = cfg.TLSCA, cfg.TLSCert, cfg.TLSKey
		}
		if broker == "" {
			return errors.New("broker is required (set --broker or config)")
		}

		clientID := fmt.Sprintf("hearth-%s", idgen.Generator{}.NewID())
		mqttClient, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: broker,
			ClientID:  clientID,
			Username:  userOpt,
			Password:  passOpt,
			TLSCA:     tlsCA,
			TLSCert:   tlsCert,
			TLSKey:    tlsKey,
			TopicBase: topicBase,
			Timeout:   timeout,
		})
		if err != nil {
			return err
		}

		service := cli.Service{
			Broker: mqttClient,
			Clock:  clock.System{},
			IDGen:  idgen.Generator{},
			Config: cli.Config{
				Broker:    broker,
				Identity:  identity,
				TopicBase: topicBase,
			},
		}

		var printer output.Printer
		if jsonOut {
			printer = output.JSONPrinter{}
		} else {
			printer = output.HumanPrinter{}
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			service: service,
			printer: printer,
			json:    jsonOut,
			timeout: timeout,
		}))
		return nil
	}

	root.AddCommand(statusCommand())
	root.AddCommand(playCommand())
	root.AddCommand(pauseCommand())
	root.AddCommand(toggleCommand())
	root.AddCommand(stopCommand())
	root.AddCommand(nextCommand())
	root.AddCommand(prevCommand())
	root.AddCommand(volumeCommand())
	root.AddCommand(powerCommand())
	root.AddCommand(sourceCommand())
	root.AddCommand(sourcesCommand())
	root.AddCommand(menuCommand())

	if err := root.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func defaultIdentity(flagVal string, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "hearth-unknown"
}
