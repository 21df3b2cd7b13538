package telemetry

import (
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// StatsTopic is the topic a device publishes its Stats on. Use "+" as
// deviceID to subscribe to all devices.
func StatsTopic(deviceID string) string {
	return "devices/" + deviceID + "/stats"
}

// DeviceFromTopic extracts the device id from a StatsTopic.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 3 && parts[0] == "devices" && parts[2] == "stats" {
		return parts[1]
	}
	return ""
}

// Publisher publishes Stats snapshots of one device.
type Publisher struct {
	Queue    *Queue
	DeviceID string
	// Timeout bounds the wait for a publish acknowledgement, which happens
	// in the background.
	Timeout time.Duration
}

// NewPublisher creates a Publisher.
func NewPublisher(q *Queue, deviceID string) *Publisher {
	return &Publisher{Queue: q, DeviceID: deviceID, Timeout: 5 * time.Second}
}

// Publish sends stats as a retained message. It does not block on the
// broker.
func (p *Publisher) Publish(stats *Stats) error {
	stats.DeviceID = p.DeviceID
	payload, err := stats.Encode()
	if err != nil {
		return err
	}
	token := p.Queue.PubWith(StatsTopic(p.DeviceID), payload, 0, true)
	go p.await(token)
	return nil
}

func (p *Publisher) await(token paho.Token) {
	if !token.WaitTimeout(p.Timeout) {
		glog.Warningf("publish stats of %s: timeout", p.DeviceID)
	} else if err := token.Error(); err != nil {
		glog.Warningf("publish stats of %s: %v", p.DeviceID, err)
	}
}

// SubscribeStats decodes Stats published by deviceID, or by all devices if
// deviceID is empty or "+".
func SubscribeStats(q *Queue, deviceID string, handler func(*Stats)) *Subscription {
	if deviceID == "" {
		deviceID = "+"
	}
	return q.Sub(StatsTopic(deviceID), func(topic string, payload []byte) {
		stats, err := DecodeStats(payload)
		if err != nil {
			glog.Warningf("invalid stats on %s: %v", topic, err)
			return
		}
		if stats.DeviceID == "" {
			stats.DeviceID = DeviceFromTopic(topic)
		}
		handler(stats)
	})
}
