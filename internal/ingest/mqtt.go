package ingest

import (
	"context"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

func StartMQTT(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.SensorReading, logger *slog.Logger) {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", current.Topic, "client_id", current.ClientID)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
	}
	if current.Password != "" {
		opts.SetPassword(current.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		token := client.Subscribe(current.Topic, current.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			reading, err := parser.ParseLine(string(msg.Payload()))
			if err != nil || reading == nil {
				if err != nil && logger != nil {
					logger.Warn("mqtt payload rejected", "topic", msg.Topic(), "err", err)
				}
				return
			}
			reading.Source = "mqtt"
			SendNonBlocking(ctx, out, *reading, logger)
		})
		if token.Wait() && token.Error() != nil && logger != nil {
			logger.Error("mqtt subscribe error", "topic", current.Topic, "err", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	go func() {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			if logger != nil {
				logger.Error("mqtt connect error", "broker", current.Broker, "err", token.Error())
			}
			return
		}
		<-ctx.Done()
		client.Disconnect(250)
	}()
}
